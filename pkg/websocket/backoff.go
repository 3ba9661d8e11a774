package websocket

import (
	"math/rand/v2"
	"time"
)

// BackoffMode selects how the reconnect delay grows.
type BackoffMode uint8

const (
	// BackoffExponential multiplies the delay by Factor for each attempt.
	BackoffExponential BackoffMode = iota
	// BackoffFixed waits Min before every attempt.
	BackoffFixed
)

// ParseBackoffMode maps "exponential" and "fixed" to a mode.
func ParseBackoffMode(s string) (BackoffMode, bool) {
	switch s {
	case "", "exponential":
		return BackoffExponential, true
	case "fixed":
		return BackoffFixed, true
	default:
		return 0, false
	}
}

func (m BackoffMode) String() string {
	if m == BackoffFixed {
		return "fixed"
	}
	return "exponential"
}

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Mode selects exponential or fixed delays.
	Mode BackoffMode
	// Min is the minimum backoff duration.
	Min time.Duration
	// Max is the maximum backoff duration.
	Max time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
	// MaxAttempts bounds consecutive failed attempts, zero means unlimited.
	MaxAttempts int
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Mode:        BackoffExponential,
		Min:         250 * time.Millisecond,
		Max:         5 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Exhausted reports whether attempt (1-based) exceeds the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}

// Next returns the next backoff duration for the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi <= 0 {
		hi = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	if b.Mode == BackoffExponential {
		for i := 1; i < attempt; i++ {
			next := time.Duration(float64(wait) * factor)
			if next > hi {
				wait = hi
				break
			}
			wait = next
		}
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min(b.Jitter, 1)
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
