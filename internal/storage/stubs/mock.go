package stubs

import (
	"context"
	"errors"
	"sync"
	"time"

	"qrbot/internal/models"
)

// maxEvents bounds memory use; older events are discarded first
const maxEvents = 10000

var errClosed = errors.New("store is closed")

// MockDB is an in-memory implementation of the Storage interface.
// It backs the default "memory" stats backend and the tests.
type MockDB struct {
	mu     sync.RWMutex
	events []models.DispatchEvent
	closed bool
}

// NewMockDB creates a new in-memory store
func NewMockDB() *MockDB {
	return &MockDB{
		events: make([]models.DispatchEvent, 0),
	}
}

// Initialize is a no-op for the in-memory store
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// RecordDispatch appends an event, dropping the oldest when full
func (m *MockDB) RecordDispatch(ctx context.Context, event models.DispatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}

	m.events = append(m.events, event)
	if len(m.events) > maxEvents {
		m.events = append(m.events[:0:0], m.events[len(m.events)-maxEvents:]...)
	}
	return nil
}

// Summary aggregates events recorded at or after since
func (m *MockDB) Summary(ctx context.Context, since time.Time) (models.DispatchSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := models.DispatchSummary{
		Since:     since,
		ByRoute:   make(map[string]int),
		ByOutcome: make(map[string]int),
	}
	for _, e := range m.events {
		if e.At.Before(since) {
			continue
		}
		summary.Total++
		summary.ByRoute[e.Route]++
		summary.ByOutcome[e.Outcome]++
	}
	return summary, nil
}

// Events returns a copy of all stored events
func (m *MockDB) Events() []models.DispatchEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.DispatchEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Close marks the store closed
func (m *MockDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
