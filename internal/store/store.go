// ABOUTME: Journal interface and record types for qapictl persistence
// ABOUTME: Defines event and command records, query filters and command outcome classification

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/wire"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Query limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Journal records QMP events and command executions.
type Journal interface {
	RecordEvent(ctx context.Context, rec *EventRecord) error
	ListEvents(ctx context.Context, q EventQuery) ([]*EventRecord, error)
	RecordCommand(ctx context.Context, rec *CommandRecord) error
	GetCommand(ctx context.Context, id string) (*CommandRecord, error)
	ListCommands(ctx context.Context, q CommandQuery) ([]*CommandRecord, error)
	Close() error
}

// EventRecord is a journaled QMP event.
type EventRecord struct {
	ID         string
	Endpoint   string
	Name       string
	Data       json.RawMessage // nil when the event carried no data
	Timestamp  time.Time       // server-side time from the event
	ReceivedAt time.Time
}

// NewEventRecord builds a record for an event received from endpoint.
func NewEventRecord(endpoint string, ev *qmp.Event) *EventRecord {
	return &EventRecord{
		ID:         uuid.New().String(),
		Endpoint:   endpoint,
		Name:       ev.Name,
		Data:       ev.Data,
		Timestamp:  ev.Time(),
		ReceivedAt: time.Now(),
	}
}

// Outcome classifies how a command ended
type Outcome string

const (
	OutcomeOK     Outcome = "ok"     // the remote side returned a value
	OutcomeError  Outcome = "error"  // the remote side refused the command
	OutcomeFailed Outcome = "failed" // no reply: disconnect, timeout or local rejection
)

// CommandRecord is a journaled command execution.
type CommandRecord struct {
	ID         string
	Endpoint   string
	Command    string
	Arguments  json.RawMessage
	OOB        bool
	Outcome    Outcome
	Return     json.RawMessage
	ErrorClass string
	ErrorDesc  string
	StartedAt  time.Time
	Duration   time.Duration
}

// CommandOutcome classifies err as returned by a command execution.
func CommandOutcome(err error) (Outcome, string, string) {
	if err == nil {
		return OutcomeOK, "", ""
	}
	var qerr *wire.Error
	if errors.As(err, &qerr) {
		return OutcomeError, string(qerr.Class), qerr.Desc
	}
	return OutcomeFailed, "", err.Error()
}

// NewCommandRecord builds a record for a command that started at started
// and finished now with ret and err.
func NewCommandRecord(endpoint, command string, args json.RawMessage, oob bool, started time.Time, ret json.RawMessage, err error) *CommandRecord {
	outcome, class, desc := CommandOutcome(err)
	rec := &CommandRecord{
		ID:         uuid.New().String(),
		Endpoint:   endpoint,
		Command:    command,
		Arguments:  args,
		OOB:        oob,
		Outcome:    outcome,
		ErrorClass: class,
		ErrorDesc:  desc,
		StartedAt:  started,
		Duration:   time.Since(started),
	}
	if err == nil {
		rec.Return = ret
	}
	return rec
}

// EventQuery filters ListEvents. Empty fields match everything.
type EventQuery struct {
	Endpoint string
	Name     string
	Since    *time.Time
	Limit    int // 1-500, defaults to 50
}

// CommandQuery filters ListCommands. Empty fields match everything.
type CommandQuery struct {
	Endpoint string
	Command  string
	Outcome  Outcome
	Limit    int // 1-500, defaults to 50
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
