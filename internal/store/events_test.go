// ABOUTME: Tests for the QMP event journal
// ABOUTME: Covers round trips, filtering, ordering and limits for the qmp_events table

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/wire"
)

var baseTime = time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)

func eventRecord(endpoint, name string, offset time.Duration) *EventRecord {
	return &EventRecord{
		ID:         uuid.New().String(),
		Endpoint:   endpoint,
		Name:       name,
		Timestamp:  baseTime.Add(offset),
		ReceivedAt: baseTime.Add(offset),
	}
}

func TestEventStore_RecordAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := eventRecord("vm1", qmp.EventShutdown, 0)
	rec.Data = json.RawMessage(`{"guest":true,"reason":"guest-shutdown"}`)
	require.NoError(t, store.RecordEvent(ctx, rec))

	events, err := store.ListEvents(ctx, EventQuery{Endpoint: "vm1"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, qmp.EventShutdown, got.Name)
	assert.JSONEq(t, string(rec.Data), string(got.Data))
	assert.True(t, rec.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", rec.Timestamp, got.Timestamp)
	assert.True(t, rec.ReceivedAt.Equal(got.ReceivedAt))
}

func TestEventStore_NoData(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, eventRecord("vm1", qmp.EventStop, 0)))

	events, err := store.ListEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Data)
}

func TestEventStore_FiltersAndOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, eventRecord("vm1", qmp.EventStop, 1*time.Second)))
	require.NoError(t, store.RecordEvent(ctx, eventRecord("vm1", qmp.EventResume, 2*time.Second)))
	require.NoError(t, store.RecordEvent(ctx, eventRecord("vm2", qmp.EventStop, 3*time.Second)))
	require.NoError(t, store.RecordEvent(ctx, eventRecord("vm1", qmp.EventStop, 4*time.Second)))

	all, err := store.ListEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].ReceivedAt.After(all[i].ReceivedAt), "events must be newest first")
	}

	vm1, err := store.ListEvents(ctx, EventQuery{Endpoint: "vm1"})
	require.NoError(t, err)
	assert.Len(t, vm1, 3)

	stops, err := store.ListEvents(ctx, EventQuery{Endpoint: "vm1", Name: qmp.EventStop})
	require.NoError(t, err)
	assert.Len(t, stops, 2)

	since := baseTime.Add(2 * time.Second)
	recent, err := store.ListEvents(ctx, EventQuery{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	limited, err := store.ListEvents(ctx, EventQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "vm1", limited[0].Endpoint)
	assert.Equal(t, "vm2", limited[1].Endpoint)
}

func TestEventStore_DefaultLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := range DefaultLimit + 5 {
		require.NoError(t, store.RecordEvent(ctx, eventRecord("vm1", qmp.EventReset, time.Duration(i)*time.Millisecond)))
	}

	events, err := store.ListEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, DefaultLimit)
}

func TestEventStore_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := eventRecord("vm1", qmp.EventStop, 0)
	require.NoError(t, store.RecordEvent(ctx, rec))
	assert.Error(t, store.RecordEvent(ctx, rec))
}

func TestNewEventRecord(t *testing.T) {
	ev := &qmp.Event{
		Name:      qmp.EventPowerdown,
		Timestamp: wire.Timestamp{Seconds: 1700000000, Microseconds: 42},
	}

	rec := NewEventRecord("vm3", ev)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "vm3", rec.Endpoint)
	assert.Equal(t, qmp.EventPowerdown, rec.Name)
	assert.Equal(t, ev.Time(), rec.Timestamp)
	assert.WithinDuration(t, time.Now(), rec.ReceivedAt, time.Minute)
}
