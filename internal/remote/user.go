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

// UserFallback is served when the user service cannot be reached.
func UserFallback(id string) readmodel.User {
	return readmodel.User{
		ID:     id,
		Email:  "fallback@email.com",
		Name:   "Temporary User",
		Gender: "Unknown",
	}
}

type UserClient struct {
	baseURL string
	http    *http.Client
	cache   cache.Cache
	policy  resilience.Policy
	logger  *zap.Logger
}

func NewUserClient(baseURL string, hc *http.Client, c cache.Cache, policy resilience.Policy, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		http:    newHTTPClient(hc),
		cache:   c,
		policy:  policy,
		logger:  logger.Named("user-client"),
	}
}

// GetUser serves from cache when possible, otherwise calls the user service
// through the retry/breaker/timeout chain. An open circuit or exhausted
// transient retries yield the placeholder user with degraded set.
func (c *UserClient) GetUser(ctx context.Context, id string) (readmodel.User, bool, error) {
	key := cache.UserKey(id)
	if u, ok, err := cache.GetJSON[readmodel.User](ctx, c.cache, key); err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return u, false, nil
	}

	u, degraded, err := resilience.Fallback(ctx, c.policy,
		func(ctx context.Context) (readmodel.User, error) { return c.fetch(ctx, id) },
		func(err error) bool {
			return errors.Is(err, resilience.ErrCircuitOpen) || resilience.IsTransient(err)
		},
		func(err error) readmodel.User {
			c.logger.Warn("user lookup degraded", zap.String("user_id", id), zap.Error(err))
			return UserFallback(id)
		},
	)
	if err != nil || degraded {
		return u, degraded, err
	}

	if err := cache.SetJSON(ctx, c.cache, key, u, cache.UserTTL); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return u, false, nil
}

func (c *UserClient) fetch(ctx context.Context, id string) (readmodel.User, error) {
	u := joinURL(c.baseURL, "users", url.PathEscape(id))
	user, err := getJSON[readmodel.User](ctx, c.http, "user-service", u, fmt.Errorf("%w: %s", ErrUserNotFound, id))
	if err != nil {
		return readmodel.User{}, err
	}
	if user.ID == "" {
		return readmodel.User{}, fmt.Errorf("%w: user-service: missing id", ErrMalformedResponse)
	}
	return *user, nil
}
