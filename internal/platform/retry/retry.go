// Package retry runs an operation until it succeeds, a classifier declares
// its error permanent, or the attempt budget runs out.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use longer backoff
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration
	// MaxBackoff caps the doubling; zero means uncapped.
	MaxBackoff time.Duration
	OnRetry    func(attempt int, err error, backoff time.Duration)
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

type Classify func(err error) Action
type Operation[T any] func() (T, error)
type VoidOperation func() error

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry policy needs at least one attempt, got %d", p.MaxAttempts)
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}
		lastErr = err

		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Err: err}
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := backoff
		if action == After {
			wait = p.RateLimitBackoff
		}
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-clock.After(wait):
			backoff = wait * 2
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// PermanentError marks an error the classifier declared not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
