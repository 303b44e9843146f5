// ABOUTME: Mock Journal implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Journal implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	events   []*EventRecord
	commands map[string]*CommandRecord // keyed by command ID
	order    []string                  // command IDs in insertion order
	closed   bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		commands: make(map[string]*CommandRecord),
	}
}

// RecordEvent stores an event.
func (m *MockStore) RecordEvent(ctx context.Context, rec *EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	r := *rec
	m.events = append(m.events, &r)
	return nil
}

// ListEvents returns events matching q, newest first.
func (m *MockStore) ListEvents(ctx context.Context, q EventQuery) ([]*EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*EventRecord
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if q.Endpoint != "" && ev.Endpoint != q.Endpoint {
			continue
		}
		if q.Name != "" && ev.Name != q.Name {
			continue
		}
		if q.Since != nil && ev.ReceivedAt.Before(*q.Since) {
			continue
		}
		r := *ev
		out = append(out, &r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})

	if limit := clampLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordCommand stores a command execution.
func (m *MockStore) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *rec
	m.commands[r.ID] = &r
	m.order = append(m.order, r.ID)
	return nil
}

// GetCommand retrieves a command by ID.
func (m *MockStore) GetCommand(ctx context.Context, id string) (*CommandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.commands[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// ListCommands returns commands matching q, newest first.
func (m *MockStore) ListCommands(ctx context.Context, q CommandQuery) ([]*CommandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*CommandRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.commands[m.order[i]]
		if q.Endpoint != "" && rec.Endpoint != q.Endpoint {
			continue
		}
		if q.Command != "" && rec.Command != q.Command {
			continue
		}
		if q.Outcome != "" && rec.Outcome != q.Outcome {
			continue
		}
		r := *rec
		out = append(out, &r)
	}

	if limit := clampLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

var _ Journal = (*MockStore)(nil)
