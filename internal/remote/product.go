package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/cache"
	"github.com/example/ec-consistency/internal/readmodel"
	"github.com/example/ec-consistency/internal/resilience"
)

const unavailableProduct = "Temporarily Unavailable (Bulkhead)"

// ProductFallback is served when the product bulkhead rejects a call.
func ProductFallback(id string) readmodel.Product {
	zero := 0
	return readmodel.Product{
		ID:              id,
		Name:            unavailableProduct,
		Category:        unavailableProduct,
		UnitPrice:       0,
		QuantityInStock: &zero,
	}
}

type ProductClient struct {
	baseURL string
	http    *http.Client
	cache   cache.Cache
	policy  resilience.Policy
	logger  *zap.Logger
}

func NewProductClient(baseURL string, hc *http.Client, c cache.Cache, policy resilience.Policy, logger *zap.Logger) *ProductClient {
	return &ProductClient{
		baseURL: baseURL,
		http:    newHTTPClient(hc),
		cache:   c,
		policy:  policy,
		logger:  logger.Named("product-client"),
	}
}

// GetProduct serves from cache when possible. On a miss it calls the
// product service through the bulkhead; a rejection yields the placeholder
// product with degraded set. Degraded values are never cached.
func (c *ProductClient) GetProduct(ctx context.Context, id string) (readmodel.Product, bool, error) {
	key := cache.ProductKey(id)
	if p, ok, err := cache.GetJSON[readmodel.Product](ctx, c.cache, key); err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return p, false, nil
	}

	p, degraded, err := resilience.Fallback(ctx, c.policy,
		func(ctx context.Context) (readmodel.Product, error) { return c.fetch(ctx, id) },
		func(err error) bool { return errors.Is(err, resilience.ErrBulkheadRejected) },
		func(err error) readmodel.Product {
			c.logger.Warn("product lookup degraded", zap.String("product_id", id), zap.Error(err))
			return ProductFallback(id)
		},
	)
	if err != nil || degraded {
		return p, degraded, err
	}

	if err := cache.SetJSON(ctx, c.cache, key, p, cache.ProductTTL); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return p, false, nil
}

func (c *ProductClient) fetch(ctx context.Context, id string) (readmodel.Product, error) {
	u := joinURL(c.baseURL, "products", "search", "product-id", url.PathEscape(id))
	p, err := getJSON[readmodel.Product](ctx, c.http, "product-service", u, fmt.Errorf("%w: %s", ErrProductNotFound, id))
	if err != nil {
		return readmodel.Product{}, err
	}
	if p.ID == "" {
		return readmodel.Product{}, fmt.Errorf("%w: product-service: missing id", ErrMalformedResponse)
	}
	return *p, nil
}
