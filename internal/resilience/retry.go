package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retry re-runs failed attempts with exponential backoff. Only errors the
// classifier accepts are retried.
type Retry struct {
	name     string
	retries  int
	initial  time.Duration
	max      time.Duration
	classify func(error) bool
	logger   *zap.Logger
}

// NewRetry allows retries attempts after the first one.
func NewRetry(name string, retries int, initial, max time.Duration, logger *zap.Logger) *Retry {
	return &Retry{
		name:     name,
		retries:  retries,
		initial:  initial,
		max:      max,
		classify: IsTransient,
		logger:   logger,
	}
}

func (r *Retry) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.Multiplier = 2
	b.MaxInterval = r.max
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.retries)), ctx)
}

func (r *Retry) Execute(ctx context.Context, op Operation) error {
	attempt := 0
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("retrying call",
			zap.String("dependency", r.name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err != nil && !r.classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.newBackOff(ctx), notify)
}
