package profile

import "time"

// DeriveConfig holds the tunable constants for deriving thresholds from
// pause averages. The specific multipliers are starting points that have
// worked in practice, not load-bearing constants; change them via config
// rather than editing call sites.
type DeriveConfig struct {
	// Margin is added on top of the between-pause average when deriving the
	// silence threshold, and enforced as the minimum spacing between
	// consecutive thresholds.
	Margin time.Duration

	// Floor is the minimum silence threshold regardless of how fast the user
	// chains sentences.
	Floor time.Duration

	// ThinkingScale maps the thinking-pause average to the thinking
	// threshold. Slightly under 1.0 so the threshold fires just before the
	// user's typical thinking pause ends.
	ThinkingScale float64

	// InterruptScale maps the thinking-pause average to the hard ceiling.
	InterruptScale float64
}

// DefaultDeriveConfig returns the stock derivation constants.
func DefaultDeriveConfig() DeriveConfig {
	return DeriveConfig{
		Margin:         500 * time.Millisecond,
		Floor:          time.Second,
		ThinkingScale:  0.8,
		InterruptScale: 1.5,
	}
}

// DeriveThresholds recomputes the three thresholds from the profile's pause
// averages:
//
//	silence  = max(avg_between + margin, floor)
//	thinking = max(avg_thinking × thinking_scale, silence + margin)
//	max      = max(avg_thinking × interrupt_scale, thinking + margin×2)
//
// and normalizes the result.
func (p *Profile) DeriveThresholds(cfg DeriveConfig) {
	p.SilenceThreshold = maxDuration(p.AvgBetweenPause+cfg.Margin, cfg.Floor)
	p.ThinkingThreshold = maxDuration(
		scaleDuration(p.AvgThinkingPause, cfg.ThinkingScale),
		p.SilenceThreshold+cfg.Margin,
	)
	p.MaxSilence = maxDuration(
		scaleDuration(p.AvgThinkingPause, cfg.InterruptScale),
		p.ThinkingThreshold+2*cfg.Margin,
	)
	p.Normalize()
}

// Observation is one completed turn's contribution to the profile: the mean
// pause duration the turn produced per category (zero duration means the
// turn had no pause of that kind) and the turn's speaking rate.
type Observation struct {
	// AvgWithinPause is the mean within-turn pause this turn produced, or 0.
	AvgWithinPause time.Duration

	// BetweenPause is the closing silence that completed the turn, or 0.
	BetweenPause time.Duration

	// AvgThinkingPause is the mean thinking pause this turn produced, or 0.
	AvgThinkingPause time.Duration

	// WordsPerMinute is the turn's speaking rate, or 0 when the turn was not
	// transcribed.
	WordsPerMinute float64

	// Words is the transcribed word count.
	Words int
}

// Fold blends one observation into the profile with an exponential moving
// average at the given learning rate (1.0 replaces, 0 ignores), then
// re-derives the thresholds. Categories the observation is silent on are
// left untouched, so a turn without a thinking pause does not drag the
// thinking average toward zero.
func (p *Profile) Fold(obs Observation, rate float64, cfg DeriveConfig) {
	if rate <= 0 {
		return
	}
	if rate > 1 {
		rate = 1
	}

	if obs.AvgWithinPause > 0 {
		p.AvgWithinPause = ema(p.AvgWithinPause, obs.AvgWithinPause, rate)
	}
	if obs.BetweenPause > 0 {
		p.AvgBetweenPause = ema(p.AvgBetweenPause, obs.BetweenPause, rate)
	}
	if obs.AvgThinkingPause > 0 {
		p.AvgThinkingPause = ema(p.AvgThinkingPause, obs.AvgThinkingPause, rate)
	}
	if obs.WordsPerMinute > 0 {
		p.WordsPerMinute = rate*obs.WordsPerMinute + (1-rate)*p.WordsPerMinute
	}
	p.TotalWordsSpoken += obs.Words
	p.LastUpdated = time.Now().UTC()

	p.DeriveThresholds(cfg)
}

// ema blends durations with weight rate on the new value.
func ema(old, new time.Duration, rate float64) time.Duration {
	return time.Duration(rate*float64(new) + (1-rate)*float64(old))
}

func scaleDuration(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
