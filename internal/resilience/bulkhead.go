package resilience

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Bulkhead admits at most parallel+queue callers. Up to parallel of them run
// at once; the rest wait. A caller arriving when both are full is rejected
// immediately.
type Bulkhead struct {
	name  string
	admit *semaphore.Weighted
	exec  *semaphore.Weighted
}

func NewBulkhead(name string, parallel, queue int) *Bulkhead {
	if parallel < 1 {
		parallel = 1
	}
	if queue < 0 {
		queue = 0
	}
	return &Bulkhead{
		name:  name,
		admit: semaphore.NewWeighted(int64(parallel + queue)),
		exec:  semaphore.NewWeighted(int64(parallel)),
	}
}

func (b *Bulkhead) Execute(ctx context.Context, op Operation) error {
	if !b.admit.TryAcquire(1) {
		return fmt.Errorf("%w: %s", ErrBulkheadRejected, b.name)
	}
	defer b.admit.Release(1)

	if err := b.exec.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.exec.Release(1)

	return op(ctx)
}
