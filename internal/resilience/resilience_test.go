package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/config"
)

type transientErr struct{}

func (transientErr) Error() string   { return "connection reset" }
func (transientErr) Transient() bool { return true }

var errValidation = errors.New("400 bad request")

// ============================================================================
// Classification
// ============================================================================

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient marker", transientErr{}, true},
		{"timeout", ErrTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"open circuit", ErrCircuitOpen, false},
		{"bulkhead", ErrBulkheadRejected, false},
		{"application error", errValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

// ============================================================================
// Retry
// ============================================================================

func newFastRetry(retries int) *Retry {
	return NewRetry("test", retries, time.Millisecond, 2*time.Millisecond, zap.NewNop())
}

func TestRetry_RetriesTransientUntilSuccess(t *testing.T) {
	var calls int
	err := newFastRetry(5).Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr{}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsAfterMaxRetries(t *testing.T) {
	var calls int
	err := newFastRetry(5).Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return transientErr{}
	})

	assert.Error(t, err)
	assert.Equal(t, 6, calls, "first attempt plus five retries")
}

func TestRetry_DoesNotRetryApplicationErrors(t *testing.T) {
	var calls int
	err := newFastRetry(5).Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errValidation
	})

	assert.ErrorIs(t, err, errValidation)
	assert.Equal(t, 1, calls)
}

// ============================================================================
// Circuit breaker
// ============================================================================

func TestCircuitBreaker_OpensAfterThreeFailures(t *testing.T) {
	cb := NewCircuitBreaker("users", 3, time.Minute, zap.NewNop())
	var calls int
	op := func(ctx context.Context) error {
		calls++
		return transientErr{}
	}

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(context.Background(), op))
	}
	assert.Equal(t, "open", cb.State())

	err := cb.Execute(context.Background(), op)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "open circuit must not reach the dependency")
}

func TestCircuitBreaker_HalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("users", 3, 20*time.Millisecond, zap.NewNop())
	fail := func(ctx context.Context) error { return transientErr{} }
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, "open", cb.State())

	time.Sleep(30 * time.Millisecond)

	var probed bool
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		probed = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, probed)
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_ApplicationErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("users", 3, time.Minute, zap.NewNop())
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errValidation })
	}
	assert.Equal(t, "closed", cb.State())
}

// ============================================================================
// Bulkhead
// ============================================================================

func TestBulkhead_RejectsBeyondSlotsAndQueue(t *testing.T) {
	b := NewBulkhead("products", 2, 3)
	release := make(chan struct{})
	var running, completed atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				running.Add(1)
				<-release
				completed.Add(1)
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	// let the remaining three park in the queue
	time.Sleep(50 * time.Millisecond)

	var rejected int
	start := time.Now()
	for i := 0; i < 4; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
		if errors.Is(err, ErrBulkheadRejected) {
			rejected++
		}
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "rejection must be immediate")
	assert.Equal(t, 4, rejected)
	assert.Equal(t, int32(2), running.Load(), "only the parallel slots execute")

	close(release)
	wg.Wait()
	assert.Equal(t, int32(5), completed.Load())
}

// occupy runs one operation on b that blocks until the returned func is called.
func occupy(t *testing.T, b *Bulkhead) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	return func() { close(release) }
}

func TestBulkhead_QueuedCallerHonoursContext(t *testing.T) {
	b := NewBulkhead("products", 1, 1)
	done := occupy(t, b)
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// Timeout
// ============================================================================

func TestTimeout_BoundsAttempt(t *testing.T) {
	err := NewTimeout(10*time.Millisecond).Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestTimeout_CallerCancellationIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewTimeout(time.Second).Execute(ctx, func(ctx context.Context) error { return ctx.Err() })

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

// ============================================================================
// Chain and fallback
// ============================================================================

func TestChain_RetryBreakerTimeout_FailsFastOnceOpen(t *testing.T) {
	p := Chain(
		newFastRetry(5),
		NewCircuitBreaker("users", 3, time.Minute, zap.NewNop()),
		NewTimeout(time.Second),
	)
	var calls int
	op := func(ctx context.Context) error {
		calls++
		return transientErr{}
	}

	err := p.Execute(context.Background(), op)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "retry stops once the breaker opens")

	err = p.Execute(context.Background(), op)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "no network attempt while open")
}

func TestChain_Order(t *testing.T) {
	var trace []string
	mark := func(name string) Policy {
		return PolicyFunc(func(ctx context.Context, op Operation) error {
			trace = append(trace, name)
			return op(ctx)
		})
	}

	err := Chain(mark("outer"), mark("middle"), mark("inner")).Execute(context.Background(), func(ctx context.Context) error {
		trace = append(trace, "op")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "middle", "inner", "op"}, trace)
}

func TestFallback(t *testing.T) {
	b := NewBulkhead("products", 1, 0)
	isRejected := func(err error) bool { return errors.Is(err, ErrBulkheadRejected) }
	placeholder := func(error) string { return "placeholder" }

	v, degraded, err := Fallback(context.Background(), b, func(ctx context.Context) (string, error) {
		return "real", nil
	}, isRejected, placeholder)
	require.NoError(t, err)
	assert.Equal(t, "real", v)
	assert.False(t, degraded)

	_, _, err = Fallback(context.Background(), b, func(ctx context.Context) (string, error) {
		return "", errValidation
	}, isRejected, placeholder)
	assert.ErrorIs(t, err, errValidation)

	// fill the only slot, then the next call falls back
	done := occupy(t, b)
	defer done()

	v, degraded, err = Fallback(context.Background(), b, func(ctx context.Context) (string, error) {
		return "real", nil
	}, isRejected, placeholder)
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, "placeholder", v)
}

// ============================================================================
// Registry
// ============================================================================

func TestDefaultRegistry(t *testing.T) {
	t.Setenv("USERS_RETRY_ATTEMPTS", "")
	r := NewDefaultRegistry(config.Load("order-service").Resilience, zap.NewNop())

	_, err := r.Policy(DependencyUsers)
	assert.NoError(t, err)
	p, err := r.Policy(DependencyProducts)
	require.NoError(t, err)
	assert.IsType(t, &Bulkhead{}, p)

	_, err = r.Policy("payments")
	assert.Error(t, err)
	assert.Panics(t, func() { r.MustPolicy("payments") })
}
