package shared

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy bounds how a network call is retried.
//
// Only errors wrapping [ErrTransientFetch] are retried. A [RateLimitError] with a Retry-After value
// replaces the computed backoff for that attempt, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy is used when the configuration leaves [retry] empty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// NoRetry performs exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts run out, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, opts ...retry.Option) error {
	return retry.Do(fn, append(p.options(ctx), opts...)...)
}

// RetryWithData is [RetryPolicy.Do] for calls that produce a value.
func RetryWithData[T any](ctx context.Context, p RetryPolicy, fn func() (T, error), opts ...retry.Option) (T, error) {
	return retry.DoWithData(fn, append(p.options(ctx), opts...)...)
}

func (p RetryPolicy) options(ctx context.Context) []retry.Option {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.BaseDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.MaxJitter(p.MaxJitter),
		retry.DelayType(p.delay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	}
}

func (p RetryPolicy) delay(n uint, err error, config *retry.Config) time.Duration {
	if wait, ok := RetryAfter(err); ok {
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			return p.MaxDelay
		}
		return wait
	}
	if p.MaxJitter <= 0 {
		return retry.BackOffDelay(n, err, config)
	}
	return retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)(n, err, config)
}
