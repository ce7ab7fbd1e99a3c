// Package cache holds the shared reference-data cache used by the order
// service for product and user lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProductTTL = 300 * time.Second
	UserTTL    = 180 * time.Second
)

// Cache is a byte-oriented key/value store with per-entry TTL. A miss is
// reported as ok=false, never as an error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

func ProductKey(id string) string { return "product:" + id }

func UserKey(id string) string { return "user:" + id }

// GetJSON reads and decodes a cached value. An undecodable entry counts as a
// miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var v T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, nil
	}
	return v, true, nil
}

func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
