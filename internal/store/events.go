// ABOUTME: QMP event journal for lifecycle history
// ABOUTME: Records events per endpoint and lists them newest first with optional filters

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RecordEvent persists an event
func (s *SQLiteStore) RecordEvent(ctx context.Context, rec *EventRecord) error {
	query := `
		INSERT INTO qmp_events (event_id, endpoint, name, data, timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Endpoint,
		rec.Name,
		nullableJSON(rec.Data),
		formatTime(rec.Timestamp),
		formatTime(rec.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("recorded event",
		"event_id", rec.ID,
		"endpoint", rec.Endpoint,
		"event", rec.Name,
	)
	return nil
}

// ListEvents retrieves events matching q, newest first
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]*EventRecord, error) {
	var where []string
	var args []any

	if q.Endpoint != "" {
		where = append(where, "endpoint = ?")
		args = append(args, q.Endpoint)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if q.Since != nil {
		where = append(where, "received_at >= ?")
		args = append(args, formatTime(*q.Since))
	}

	query := `SELECT event_id, endpoint, name, data, timestamp, received_at FROM qmp_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, event_id DESC LIMIT ?"
	args = append(args, clampLimit(q.Limit))

	return s.queryEvents(ctx, query, args...)
}

// queryEvents is a helper that executes a query and returns events
func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		rec := &EventRecord{}
		var data sql.NullString
		var timestampStr, receivedStr string

		if err := rows.Scan(
			&rec.ID,
			&rec.Endpoint,
			&rec.Name,
			&data,
			&timestampStr,
			&receivedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		rec.Data = jsonFromNull(data)
		if rec.Timestamp, err = parseTime(timestampStr); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if rec.ReceivedAt, err = parseTime(receivedStr); err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}

		events = append(events, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}
