package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxTTL bounds how long the LRU keeps any entry; each entry additionally
// carries its own expiry.
const maxTTL = time.Hour

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache bounded by entry count.
type Memory struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 10000
	}
	return &Memory{
		lru: expirable.NewLRU[string, entry](size, nil, maxTTL),
		now: time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.lru.Add(key, entry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}
