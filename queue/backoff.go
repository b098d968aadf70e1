package queue

import (
	"math"
	"time"
)

// baseBackoff and ceilingBackoff bound the retry delay schedule:
// 5s, 10s, 20s, ... capped at 5 minutes.
const (
	baseBackoff    = 5 * time.Second
	ceilingBackoff = 5 * time.Minute
)

// NextAttemptDelay returns how long to wait before a job's next attempt,
// given how many attempts have already been made (1 after the first
// failure). Growth is exponential in the attempt count and capped at
// ceilingBackoff so a persistently failing job never gets parked for an
// unbounded time.
func NextAttemptDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(baseBackoff) * math.Pow(2, float64(attempt-1))
	if delay > float64(ceilingBackoff) {
		return ceilingBackoff
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether a job that has failed attempt times (and
// carries the given error kind) should be retried rather than moved to
// StateFailed. Non-retryable error kinds (e.g. invalid input) exhaust
// immediately regardless of remaining attempts.
func ShouldRetry(attempt, maxAttempts int, retryable bool) bool {
	if !retryable {
		return false
	}
	return attempt < maxAttempts
}
