package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/readmodel"
)

// MockOrderStore wraps an in-memory order store and can fail writes.
type MockOrderStore struct {
	*store.MemoryOrderStore

	mu           sync.Mutex
	AddErr       error
	ReplaceErr   error
	ReplaceCalls []readmodel.Order
	// BeforeReplace runs before each Replace reaches the store, letting a
	// test commit a competing write in between.
	BeforeReplace func(o readmodel.Order)
	SyncErr       error
	SyncCalls     int
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{MemoryOrderStore: store.NewMemoryOrderStore()}
}

func (m *MockOrderStore) Add(ctx context.Context, o *readmodel.Order) error {
	if m.AddErr != nil {
		return m.AddErr
	}
	return m.MemoryOrderStore.Add(ctx, o)
}

func (m *MockOrderStore) Replace(ctx context.Context, o *readmodel.Order) error {
	m.mu.Lock()
	m.ReplaceCalls = append(m.ReplaceCalls, *o)
	err := m.ReplaceErr
	hook := m.BeforeReplace
	m.BeforeReplace = nil
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(*o)
	}
	return m.MemoryOrderStore.Replace(ctx, o)
}

func (m *MockOrderStore) SyncProductName(ctx context.Context, productID, name string, limit int) (int, int, error) {
	m.mu.Lock()
	m.SyncCalls++
	err := m.SyncErr
	m.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}
	return m.MemoryOrderStore.SyncProductName(ctx, productID, name, limit)
}
