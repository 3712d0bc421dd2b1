package bridge

import "time"

// DefaultRestartDelay is the fixed wait between a worker exit (or failed
// spawn) and the next spawn attempt.
const DefaultRestartDelay = 5 * time.Second

// stableThreshold is how long a worker must run before the attempt counter
// handed to Backoff resets.
const stableThreshold = 2 * time.Minute

// Backoff decides how long a supervisor waits before respawning.
// attempt starts at 1 and counts consecutive short-lived runs.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval before every attempt.
type FixedBackoff time.Duration

// Delay implements Backoff.
func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff doubles the delay per attempt up to Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff: Base * 2^(attempt-1), capped at Max.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
