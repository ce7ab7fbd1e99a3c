package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-consistency/internal/messaging"
)

// MockPublisher records published events in memory.
type MockPublisher struct {
	mu sync.Mutex

	PublishCalls []PublishCall
	PublishErr   error
}

// PublishCall records parameters passed to Publish
type PublishCall struct {
	Exchange string
	Headers  messaging.Headers
	Payload  any
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, exchange string, headers messaging.Headers, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishCalls = append(m.PublishCalls, PublishCall{Exchange: exchange, Headers: headers, Payload: payload})
	return nil
}

// Events returns the payloads published with the given event header.
func (m *MockPublisher) Events(event string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, c := range m.PublishCalls {
		if c.Headers[messaging.HeaderEvent] == event {
			out = append(out, c.Payload)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishCalls = nil
}
