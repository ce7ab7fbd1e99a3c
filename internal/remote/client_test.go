package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/cache"
	"github.com/example/ec-consistency/internal/resilience"
)

func passthrough() resilience.Policy {
	return resilience.PolicyFunc(func(ctx context.Context, op resilience.Operation) error { return op(ctx) })
}

func userPolicy() resilience.Policy {
	return resilience.Chain(
		resilience.NewRetry("users", 5, time.Millisecond, 2*time.Millisecond, zap.NewNop()),
		resilience.NewCircuitBreaker("users", 3, time.Minute, zap.NewNop()),
		resilience.NewTimeout(time.Second),
	)
}

// ============================================================================
// ProductClient
// ============================================================================

func TestProductClient_CacheAside(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/products/search/product-id/P1", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"id":"P1","name":"Pen","category":"Office","unitPrice":10,"quantityInStock":5},"message":"ok"}`))
	}))
	defer srv.Close()

	c := cache.NewMemory(10)
	client := NewProductClient(srv.URL, srv.Client(), c, passthrough(), zap.NewNop())

	p, degraded, err := client.GetProduct(context.Background(), "P1")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, "Pen", p.Name)
	assert.Equal(t, 10.0, p.UnitPrice)
	assert.Equal(t, 5, p.Stock())

	_, _, err = client.GetProduct(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup must be a cache hit")

	_, ok, _ := c.Get(context.Background(), cache.ProductKey("P1"))
	assert.True(t, ok)
}

func TestProductClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, ``, ErrProductNotFound},
		{"malformed json", http.StatusOK, `{"data":`, ErrMalformedResponse},
		{"missing data", http.StatusOK, `{"message":"nothing"}`, ErrMalformedResponse},
		{"missing id", http.StatusOK, `{"data":{"name":"x"}}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := cache.NewMemory(10)
			client := NewProductClient(srv.URL, srv.Client(), c, passthrough(), zap.NewNop())

			_, degraded, err := client.GetProduct(context.Background(), "P1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, degraded)
			_, ok, _ := c.Get(context.Background(), cache.ProductKey("P1"))
			assert.False(t, ok)
		})
	}
}

func TestProductClient_BulkheadRejectionFallsBack(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	rejecting := resilience.PolicyFunc(func(ctx context.Context, op resilience.Operation) error {
		return resilience.ErrBulkheadRejected
	})
	c := cache.NewMemory(10)
	client := NewProductClient(srv.URL, srv.Client(), c, rejecting, zap.NewNop())

	p, degraded, err := client.GetProduct(context.Background(), "P1")

	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, ProductFallback("P1"), p)
	assert.Equal(t, "Temporarily Unavailable (Bulkhead)", p.Name)
	assert.Zero(t, hits.Load())
	_, ok, _ := c.Get(context.Background(), cache.ProductKey("P1"))
	assert.False(t, ok, "fallback values are not cached")
}

// ============================================================================
// UserClient
// ============================================================================

func TestUserClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/U1", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"id":"U1","email":"a@b.c","name":"Ann","gender":"F"}}`))
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL, srv.Client(), cache.NewMemory(10), userPolicy(), zap.NewNop())

	u, degraded, err := client.GetUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, "a@b.c", u.Email)
}

func TestUserClient_BreakerOpensThenFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL, srv.Client(), cache.NewMemory(10), userPolicy(), zap.NewNop())

	u, degraded, err := client.GetUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, UserFallback("U1"), u)
	assert.Equal(t, int32(3), hits.Load())

	_, degraded, err = client.GetUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, int32(3), hits.Load(), "open circuit makes no network attempt")
}

func TestUserClient_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL, srv.Client(), cache.NewMemory(10), userPolicy(), zap.NewNop())

	_, degraded, err := client.GetUser(context.Background(), "U1")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, degraded)
	assert.Equal(t, int32(1), hits.Load())
}

func TestUserClient_AttemptTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	policy := resilience.Chain(
		resilience.NewRetry("users", 1, time.Millisecond, time.Millisecond, zap.NewNop()),
		resilience.NewCircuitBreaker("users", 3, time.Minute, zap.NewNop()),
		resilience.NewTimeout(20*time.Millisecond),
	)
	client := NewUserClient(srv.URL, srv.Client(), cache.NewMemory(10), policy, zap.NewNop())

	_, degraded, err := client.GetUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, int32(2), hits.Load(), "each attempt is individually time-boxed")
}

func TestStatusError_Transient(t *testing.T) {
	assert.True(t, (&StatusError{Code: 503}).Transient())
	assert.True(t, (&StatusError{Code: 429}).Transient())
	assert.False(t, (&StatusError{Code: 400}).Transient())
}
