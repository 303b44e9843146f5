// ABOUTME: Tests for the command journal and outcome classification
// ABOUTME: Covers ok, remote error and failed outcomes plus filtering

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/qapi/internal/wire"
)

func TestCommandOutcome(t *testing.T) {
	outcome, class, desc := CommandOutcome(nil)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Empty(t, class)
	assert.Empty(t, desc)

	qerr := &wire.Error{Class: wire.ErrorClassDeviceNotFound, Desc: "Device 'cd0' not found"}
	outcome, class, desc = CommandOutcome(fmt.Errorf("eject: %w", qerr))
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, "DeviceNotFound", class)
	assert.Equal(t, "Device 'cd0' not found", desc)

	outcome, class, desc = CommandOutcome(errors.New("QAPI stream disconnected"))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, class)
	assert.Equal(t, "QAPI stream disconnected", desc)
}

func TestCommandStore_RecordAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := baseTime
	rec := NewCommandRecord("vm1", "query-status", nil, false, started,
		json.RawMessage(`{"running":true,"status":"running"}`), nil)
	rec.Duration = 1500 * time.Microsecond
	require.NoError(t, store.RecordCommand(ctx, rec))

	got, err := store.GetCommand(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "vm1", got.Endpoint)
	assert.Equal(t, "query-status", got.Command)
	assert.Nil(t, got.Arguments)
	assert.False(t, got.OOB)
	assert.Equal(t, OutcomeOK, got.Outcome)
	assert.JSONEq(t, `{"running":true,"status":"running"}`, string(got.Return))
	assert.Equal(t, 1500*time.Microsecond, got.Duration)
	assert.True(t, started.Equal(got.StartedAt))
}

func TestCommandStore_RemoteError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	qerr := &wire.Error{Class: wire.ErrorClassCommandNotFound, Desc: "The command frob has not been found"}
	rec := NewCommandRecord("vm1", "frob", json.RawMessage(`{"x":1}`), true, baseTime, nil, qerr)
	require.NoError(t, store.RecordCommand(ctx, rec))

	got, err := store.GetCommand(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, got.Outcome)
	assert.Equal(t, "CommandNotFound", got.ErrorClass)
	assert.Equal(t, qerr.Desc, got.ErrorDesc)
	assert.JSONEq(t, `{"x":1}`, string(got.Arguments))
	assert.True(t, got.OOB)
	assert.Nil(t, got.Return)
}

func TestCommandStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetCommand(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommandStore_ListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	add := func(endpoint, command string, offset time.Duration, err error) {
		rec := NewCommandRecord(endpoint, command, nil, false, baseTime.Add(offset), json.RawMessage(`{}`), err)
		require.NoError(t, store.RecordCommand(ctx, rec))
	}
	add("vm1", "stop", 1*time.Second, nil)
	add("vm1", "cont", 2*time.Second, nil)
	add("vm2", "stop", 3*time.Second, errors.New("timeout"))
	add("vm1", "frob", 4*time.Second, &wire.Error{Class: wire.ErrorClassCommandNotFound})

	all, err := store.ListCommands(ctx, CommandQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "frob", all[0].Command)
	assert.Equal(t, "stop", all[3].Command)

	vm1, err := store.ListCommands(ctx, CommandQuery{Endpoint: "vm1"})
	require.NoError(t, err)
	assert.Len(t, vm1, 3)

	stops, err := store.ListCommands(ctx, CommandQuery{Command: "stop"})
	require.NoError(t, err)
	assert.Len(t, stops, 2)

	failed, err := store.ListCommands(ctx, CommandQuery{Outcome: OutcomeFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "vm2", failed[0].Endpoint)
	assert.Equal(t, "timeout", failed[0].ErrorDesc)

	limited, err := store.ListCommands(ctx, CommandQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, clampLimit(0))
	assert.Equal(t, DefaultLimit, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxLimit, clampLimit(10_000))
}
