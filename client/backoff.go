package client

import (
	"math"
	"time"
)

// Backoff computes reconnect delays as Base * 2^(attempt-1)
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given attempt (1-based) and false once
// the attempt exceeds MaxAttempts. Delays saturate instead of overflowing.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0, false
	}
	shift := min(attempt-1, 62)
	if b.Base > math.MaxInt64>>shift {
		return time.Duration(math.MaxInt64), true
	}
	return b.Base << shift, true
}
