package venice

import "time"

// BackoffDelay returns the delay applied before retry attempt k (0-indexed):
// initial × 2^k. It is the schedule the call wrapper's backoff follows.
func BackoffDelay(k int, initial time.Duration) time.Duration {
	if k < 0 {
		return initial
	}
	if k > 30 {
		k = 30
	}
	return initial * time.Duration(int64(1)<<uint(k))
}
