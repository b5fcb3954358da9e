package sync

import "time"

// backoffDelay returns the exponential backoff delay for the given
// attempt count: 2^attempts seconds, capped. The delay is
// non-decreasing in the attempt count.
func backoffDelay(attempts int, cap time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^31s already exceeds any sane cap; avoid shift overflow.
	if attempts > 31 {
		attempts = 31
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
