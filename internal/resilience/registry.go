package resilience

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/config"
)

const (
	DependencyProducts = "products"
	DependencyUsers    = "users"
)

// Registry owns one policy per remote dependency. Breaker and bulkhead state
// inside a policy is shared by every caller that looks it up.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

func (r *Registry) Register(name string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = p
}

func (r *Registry) Policy(name string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("no resilience policy for %q", name)
	}
	return p, nil
}

// MustPolicy is Policy for wiring code that cannot continue without one.
func (r *Registry) MustPolicy(name string) Policy {
	p, err := r.Policy(name)
	if err != nil {
		panic(err)
	}
	return p
}

// NewDefaultRegistry builds the process-wide policies:
//
//	users:    Retry -> CircuitBreaker -> Timeout (per attempt)
//	products: Bulkhead
func NewDefaultRegistry(cfg config.ResilienceConfig, logger *zap.Logger) *Registry {
	logger = logger.Named("resilience")
	r := NewRegistry()
	r.Register(DependencyUsers, Chain(
		NewRetry(DependencyUsers, cfg.UsersRetryAttempts, cfg.RetryInitialInterval, cfg.RetryMaxInterval, logger),
		NewCircuitBreaker(DependencyUsers, cfg.UsersBreakerFailures, cfg.UsersBreakerCooldown, logger),
		NewTimeout(cfg.UsersAttemptTimeout),
	))
	r.Register(DependencyProducts, NewBulkhead(DependencyProducts, cfg.ProductsBulkheadSlots, cfg.ProductsBulkheadQueue))
	return r
}
