// ABOUTME: Command journal recording every executed QMP or guest agent command
// ABOUTME: Stores arguments, outcome, remote error class and latency

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecordCommand persists a command execution
func (s *SQLiteStore) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	query := `
		INSERT INTO commands (
			command_id, endpoint, command, arguments, oob, outcome, return_value,
			error_class, error_desc, started_at, duration_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Endpoint,
		rec.Command,
		nullableJSON(rec.Arguments),
		rec.OOB,
		string(rec.Outcome),
		nullableJSON(rec.Return),
		nullString(rec.ErrorClass),
		nullString(rec.ErrorDesc),
		formatTime(rec.StartedAt),
		rec.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}

	s.logger.Debug("recorded command",
		"command_id", rec.ID,
		"endpoint", rec.Endpoint,
		"command", rec.Command,
		"outcome", rec.Outcome,
	)
	return nil
}

const commandColumns = `command_id, endpoint, command, arguments, oob, outcome, return_value,
		error_class, error_desc, started_at, duration_us`

// GetCommand retrieves a single command by ID
func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (*CommandRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE command_id = ?`, id)

	rec, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListCommands retrieves commands matching q, newest first
func (s *SQLiteStore) ListCommands(ctx context.Context, q CommandQuery) ([]*CommandRecord, error) {
	var where []string
	var args []any

	if q.Endpoint != "" {
		where = append(where, "endpoint = ?")
		args = append(args, q.Endpoint)
	}
	if q.Command != "" {
		where = append(where, "command = ?")
		args = append(args, q.Command)
	}
	if q.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(q.Outcome))
	}

	query := `SELECT ` + commandColumns + ` FROM commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, command_id DESC LIMIT ?"
	args = append(args, clampLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var cmds []*CommandRecord
	for rows.Next() {
		rec, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command rows: %w", err)
	}
	return cmds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*CommandRecord, error) {
	rec := &CommandRecord{}
	var args, ret, errClass, errDesc sql.NullString
	var outcome, startedStr string
	var durationUS int64

	if err := row.Scan(
		&rec.ID,
		&rec.Endpoint,
		&rec.Command,
		&args,
		&rec.OOB,
		&outcome,
		&ret,
		&errClass,
		&errDesc,
		&startedStr,
		&durationUS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning command row: %w", err)
	}

	rec.Arguments = jsonFromNull(args)
	rec.Return = jsonFromNull(ret)
	rec.Outcome = Outcome(outcome)
	rec.ErrorClass = errClass.String
	rec.ErrorDesc = errDesc.String
	rec.Duration = time.Duration(durationUS) * time.Microsecond

	var err error
	if rec.StartedAt, err = parseTime(startedStr); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	return rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
