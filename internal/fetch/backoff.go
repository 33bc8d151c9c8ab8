package fetch

import "time"

// BackoffTable maps the upcoming attempt number to a fixed pre-attempt delay.
// Delays are deliberately not randomized so retry timing stays reproducible.
// Entry 0 is the delay before attempt 2, entry 1 before attempt 3, and so on;
// attempt 1 never waits.
type BackoffTable []time.Duration

// DefaultBackoffTable allows 4 total attempts with fixed waits between them.
var DefaultBackoffTable = BackoffTable{
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Attempts returns the total attempt budget implied by the table.
func (t BackoffTable) Attempts() int {
	return len(t) + 1
}

// Delay returns the wait before the given attempt (1-based). Attempt 1 and
// out-of-range attempts wait zero.
func (t BackoffTable) Delay(attempt int) time.Duration {
	idx := attempt - 2
	if idx < 0 || idx >= len(t) {
		return 0
	}
	return t[idx]
}
