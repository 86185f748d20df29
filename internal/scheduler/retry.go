package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const DefaultAttempts = 3

// RetryPolicy bounds the attempts made for one tile in one scheduling pass.
// NewBackOff yields the wait between attempts; nil means retry immediately.
type RetryPolicy struct {
	Attempts   int
	NewBackOff func() backoff.BackOff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts}
}

// ConstantRetryPolicy waits the same duration between attempts.
func ConstantRetryPolicy(attempts int, wait time.Duration) RetryPolicy {
	if wait <= 0 {
		return RetryPolicy{Attempts: attempts}
	}
	return RetryPolicy{
		Attempts: attempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(wait)
		},
	}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return DefaultAttempts
	}
	return p.Attempts
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	b := p.NewBackOff()
	b.Reset()
	return b
}
