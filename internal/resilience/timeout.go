package resilience

import (
	"context"
	"fmt"
	"time"
)

// Timeout bounds a single attempt. The operation must honour ctx.
type Timeout struct {
	d time.Duration
}

func NewTimeout(d time.Duration) Timeout {
	return Timeout{d: d}
}

func (t Timeout) Execute(ctx context.Context, op Operation) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && attemptCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, t.d, err)
	}
	return err
}
