package dispatch

import "time"

// Backoff returns the delay before the next attempt: base doubled per prior
// attempt, clamped at cap. attempts is the count of attempts already made,
// so the first retry waits base, the second 2*base, and so on.
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return cap
	}
	if attempts > 32 {
		return cap
	}
	d := base << uint(attempts)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
