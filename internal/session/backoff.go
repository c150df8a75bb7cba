package session

import "time"

// BackoffPolicy selects the delay schedule between connect attempts.
type BackoffPolicy string

const (
	BackoffFixed       BackoffPolicy = "fixed"
	BackoffExponential BackoffPolicy = "exponential"
)

// backoff computes the wait before a given attempt (1-based).
type backoff struct {
	policy BackoffPolicy
	base   time.Duration
	max    time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if b.policy == BackoffFixed {
		return b.base
	}

	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d > b.max {
		d = b.max
	}
	return d
}
