// Package rate maintains a running speaking-rate estimate from completed
// speech turns.
package rate

import (
	"sync"
	"time"
)

// DefaultMinSegment is the shortest speaking duration that contributes a
// rate sample. Shorter turns carry too little signal and skew the estimate.
const DefaultMinSegment = 500 * time.Millisecond

// Estimator accumulates word counts against speaking time and reports
// words-per-minute over everything observed so far. Pause time is never
// part of the denominator; callers pass speaking duration only.
//
// Estimator is safe for concurrent use.
type Estimator struct {
	mu         sync.Mutex
	minSegment time.Duration
	words      int
	speaking   time.Duration
}

// NewEstimator creates an Estimator. minSegment <= 0 selects
// DefaultMinSegment.
func NewEstimator(minSegment time.Duration) *Estimator {
	if minSegment <= 0 {
		minSegment = DefaultMinSegment
	}
	return &Estimator{minSegment: minSegment}
}

// Observe adds one completed turn's sample. It reports whether the sample
// was accepted; turns below the minimum speaking duration or with no words
// are skipped.
func (e *Estimator) Observe(words int, speaking time.Duration) bool {
	if words <= 0 || speaking < e.minSegment {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.words += words
	e.speaking += speaking
	return true
}

// WordsPerMinute returns the rate over all accepted samples. ok is false
// until at least one sample has been accepted.
func (e *Estimator) WordsPerMinute() (wpm float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.speaking <= 0 {
		return 0, false
	}
	return float64(e.words) / e.speaking.Minutes(), true
}

// Words returns the total accepted word count.
func (e *Estimator) Words() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.words
}

// Speaking returns the total accepted speaking time.
func (e *Estimator) Speaking() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

// Reset discards all accumulated samples.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.words = 0
	e.speaking = 0
}
