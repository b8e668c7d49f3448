// ABOUTME: Shared retry policy for all outbound agent-service calls
// ABOUTME: Fixed-delay bounded retries built on cenkalti/backoff with a transient classifier

package memgpt

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the total number of tries, including the first.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 2 * time.Second
)

// RetryPolicy describes how a failing call is repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries. Values below 1 mean DefaultMaxAttempts.
	MaxAttempts int
	// Delay is the fixed pause between tries.
	Delay time.Duration
	// Classify reports whether an error is transient. Nil means NewClassifier(DefaultNotReadyMarkers...).
	Classify func(error) bool
	// OnRetry, when set, is called before each pause with the error that caused it.
	OnRetry func(err error, next time.Duration)
}

// DefaultRetryPolicy returns 3 attempts, 2s apart, with the default classifier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Classify:    NewClassifier(DefaultNotReadyMarkers...),
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Classify == nil {
		p.Classify = NewClassifier(DefaultNotReadyMarkers...)
	}
	return p
}

// Retry runs op under policy p. Transient failures are retried until the
// attempt budget is spent, then the last error is returned. Permanent
// failures and context cancellation end the loop immediately.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	operation := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Classify(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, next time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, next)
		}
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}
