// Package resilience guards outbound calls to remote dependencies with
// bulkheads, retries, circuit breakers, timeouts and fallbacks.
package resilience

import (
	"context"
	"errors"
	"net"
)

var (
	ErrBulkheadRejected = errors.New("resilience: bulkhead rejected")
	ErrCircuitOpen      = errors.New("resilience: circuit open")
	ErrTimeout          = errors.New("resilience: attempt timed out")
)

// Operation is one guarded call.
type Operation func(ctx context.Context) error

// Policy runs an operation under some guard.
type Policy interface {
	Execute(ctx context.Context, op Operation) error
}

type PolicyFunc func(ctx context.Context, op Operation) error

func (f PolicyFunc) Execute(ctx context.Context, op Operation) error { return f(ctx, op) }

// Chain composes policies, outermost first.
func Chain(policies ...Policy) Policy {
	return PolicyFunc(func(ctx context.Context, op Operation) error {
		wrapped := op
		for i := len(policies) - 1; i >= 0; i-- {
			p, next := policies[i], wrapped
			wrapped = func(ctx context.Context) error { return p.Execute(ctx, next) }
		}
		return wrapped(ctx)
	})
}

// Do runs fn under p and returns its result.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Transient is implemented by errors that know whether a retry may help.
type Transient interface {
	Transient() bool
}

// IsTransient classifies network failures and attempt timeouts as
// retryable. Caller cancellation, open circuits and bulkhead rejections are
// not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrBulkheadRejected), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
