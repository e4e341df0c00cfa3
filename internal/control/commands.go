// Package control detects spoken control commands in transcripts and maps
// them to segmentation hooks.
package control

import (
	"fmt"
	"regexp"
	"strings"
)

// Signal is a semantic control event recognized in a transcript.
type Signal int

const (
	// SignalNone: the transcript carries no control command.
	SignalNone Signal = iota

	// SignalStillThinking asks the segmenter to hold the current pause
	// open past the normal silence threshold.
	SignalStillThinking

	// SignalResume cancels an active still-thinking override.
	SignalResume

	// SignalRecalibrate discards the user's learned profile and reopens the
	// calibration window.
	SignalRecalibrate
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalStillThinking:
		return "still_thinking"
	case SignalResume:
		return "resume"
	case SignalRecalibrate:
		return "recalibrate"
	default:
		return "none"
	}
}

// Default phrase lists. Matching is case-insensitive on word boundaries.
var (
	DefaultThinkingPhrases    = []string{"wait", "hold on", "give me a second", "let me think", "thinking"}
	DefaultResumePhrases      = []string{"okay", "continue", "go ahead", "keep going"}
	DefaultRecalibratePhrases = []string{"recalibrate"}
)

// Config overrides the default phrase lists. A nil slice keeps the default;
// an empty non-nil slice disables that signal.
type Config struct {
	ThinkingPhrases    []string
	ResumePhrases      []string
	RecalibratePhrases []string
}

// Detector matches control phrases in transcribed text.
type Detector struct {
	recalibrate *regexp.Regexp
	thinking    *regexp.Regexp
	resume      *regexp.Regexp
}

// NewDetector compiles the phrase lists into matchers.
func NewDetector(cfg Config) (*Detector, error) {
	d := &Detector{}
	var err error
	if d.recalibrate, err = compilePhrases(orDefault(cfg.RecalibratePhrases, DefaultRecalibratePhrases)); err != nil {
		return nil, fmt.Errorf("control: recalibrate phrases: %w", err)
	}
	if d.thinking, err = compilePhrases(orDefault(cfg.ThinkingPhrases, DefaultThinkingPhrases)); err != nil {
		return nil, fmt.Errorf("control: thinking phrases: %w", err)
	}
	if d.resume, err = compilePhrases(orDefault(cfg.ResumePhrases, DefaultResumePhrases)); err != nil {
		return nil, fmt.Errorf("control: resume phrases: %w", err)
	}
	return d, nil
}

// Detect returns the first matching signal for the transcript. Recalibrate
// outranks still-thinking, which outranks resume, so "okay, let me think"
// holds the pause instead of releasing it.
func (d *Detector) Detect(text string) Signal {
	if text == "" {
		return SignalNone
	}
	switch {
	case d.recalibrate != nil && d.recalibrate.MatchString(text):
		return SignalRecalibrate
	case d.thinking != nil && d.thinking.MatchString(text):
		return SignalStillThinking
	case d.resume != nil && d.resume.MatchString(text):
		return SignalResume
	}
	return SignalNone
}

func orDefault(phrases, def []string) []string {
	if phrases == nil {
		return def
	}
	return phrases
}

// compilePhrases builds a case-insensitive word-boundary matcher, so "okay"
// matches "Okay, go" but not "tokay".
func compilePhrases(phrases []string) (*regexp.Regexp, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(p)))
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
