package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/readmodel"
)

// MockProductStore wraps an in-memory product store, recording calls and
// allowing errors to be injected per product.
type MockProductStore struct {
	*store.MemoryProductStore

	mu sync.Mutex

	// For tracking calls in tests
	AdjustCalls []AdjustCall
	RenameCalls []RenameCall
	// AdjustErr fails AdjustStock for the given product ids
	AdjustErr map[string]error
}

// AdjustCall records parameters passed to AdjustStock
type AdjustCall struct {
	ProductID string
	Delta     int
}

// RenameCall records parameters passed to Rename
type RenameCall struct {
	ProductID string
	Name      string
}

func NewMockProductStore() *MockProductStore {
	return &MockProductStore{
		MemoryProductStore: store.NewMemoryProductStore(),
		AdjustErr:          make(map[string]error),
	}
}

// Seed stores a product with the given stock
func (m *MockProductStore) Seed(id, name string, price float64, stock int) {
	_ = m.Put(context.Background(), &readmodel.Product{ID: id, Name: name, UnitPrice: price, QuantityInStock: &stock})
}

// StockOf returns the stock of a product, or -1 if it does not exist
func (m *MockProductStore) StockOf(id string) int {
	p, err := m.Get(context.Background(), id)
	if err != nil {
		return -1
	}
	return p.Stock()
}

func (m *MockProductStore) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	m.mu.Lock()
	m.AdjustCalls = append(m.AdjustCalls, AdjustCall{ProductID: productID, Delta: delta})
	err := m.AdjustErr[productID]
	m.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return m.MemoryProductStore.AdjustStock(ctx, productID, delta)
}

func (m *MockProductStore) Rename(ctx context.Context, productID, name string) error {
	m.mu.Lock()
	m.RenameCalls = append(m.RenameCalls, RenameCall{ProductID: productID, Name: name})
	m.mu.Unlock()
	return m.MemoryProductStore.Rename(ctx, productID, name)
}
