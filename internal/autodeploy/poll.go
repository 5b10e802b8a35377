package autodeploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// PollPolicy bounds a convergence wait
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// PollResult is the outcome of one convergence check
type PollResult[T any] struct {
	value T
	done  bool
}

// Done ends the wait with v
func Done[T any](v T) PollResult[T] {
	return PollResult[T]{value: v, done: true}
}

// Retry asks for another attempt after the poll interval
func Retry[T any]() PollResult[T] {
	return PollResult[T]{}
}

// WaitUntil calls check at a fixed interval until it reports Done, returns
// an error, the attempts run out, or ctx ends. Running out of attempts or
// time yields ErrConvergenceTimeout; an error from check is returned as is.
func WaitUntil[T any](ctx context.Context, policy PollPolicy, check func(context.Context) (PollResult[T], error)) (T, error) {
	var result T

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := wait.Backoff{
		Duration: policy.Interval,
		Factor:   1.0,
		Steps:    attempts,
	}

	var checkErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		r, err := check(ctx)
		if err != nil {
			checkErr = err
			return false, err
		}
		if r.done {
			result = r.value
			return true, nil
		}
		return false, nil
	})

	switch {
	case err == nil:
		return result, nil
	case checkErr != nil:
		return result, checkErr
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return result, fmt.Errorf("%w: %w", ErrConvergenceTimeout, err)
	case wait.Interrupted(err):
		return result, fmt.Errorf("%w after %d attempts", ErrConvergenceTimeout, attempts)
	default:
		return result, err
	}
}
