// ABOUTME: Tests for MockStore
// ABOUTME: Checks the in-memory journal filters the same way the SQLite one does

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Events(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.RecordEvent(ctx, eventRecord("vm1", "STOP", time.Second)))
	require.NoError(t, m.RecordEvent(ctx, eventRecord("vm2", "STOP", 2*time.Second)))
	require.NoError(t, m.RecordEvent(ctx, eventRecord("vm1", "RESUME", 3*time.Second)))

	all, err := m.ListEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "RESUME", all[0].Name)

	vm1, err := m.ListEvents(ctx, EventQuery{Endpoint: "vm1", Name: "STOP"})
	require.NoError(t, err)
	assert.Len(t, vm1, 1)
}

func TestMockStore_Commands(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	rec := NewCommandRecord("vm1", "stop", nil, false, time.Now(), nil, nil)
	require.NoError(t, m.RecordCommand(ctx, rec))

	got, err := m.GetCommand(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "stop", got.Command)

	_, err = m.GetCommand(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := m.ListCommands(ctx, CommandQuery{Outcome: OutcomeOK})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}
