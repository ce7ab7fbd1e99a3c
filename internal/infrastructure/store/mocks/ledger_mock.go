package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-consistency/internal/infrastructure/store"
)

// MockLedger wraps an in-memory ledger and records claims and releases.
type MockLedger struct {
	*store.MemoryLedger

	mu           sync.Mutex
	ClaimCalls   []LedgerCall
	ReleaseCalls []LedgerCall
	ClaimErr     error
}

// LedgerCall records parameters passed to Claim or Release
type LedgerCall struct {
	EventID   string
	ProductID string
}

func NewMockLedger() *MockLedger {
	return &MockLedger{MemoryLedger: store.NewMemoryLedger()}
}

func (m *MockLedger) Claim(ctx context.Context, eventID, productID string) (bool, error) {
	m.mu.Lock()
	m.ClaimCalls = append(m.ClaimCalls, LedgerCall{EventID: eventID, ProductID: productID})
	err := m.ClaimErr
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	return m.MemoryLedger.Claim(ctx, eventID, productID)
}

func (m *MockLedger) Release(ctx context.Context, eventID, productID string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, LedgerCall{EventID: eventID, ProductID: productID})
	m.mu.Unlock()
	return m.MemoryLedger.Release(ctx, eventID, productID)
}
