// Package store provides the qapictl journal using SQLite.
//
// # Architecture
//
// Journal is the interface used by the rest of the module. SQLiteStore
// implements it on top of modernc.org/sqlite (no cgo); MockStore is an
// in-memory implementation for tests.
//
// # Data Models
//
//   - EventRecord: a QMP event with its endpoint, payload and timestamps
//   - CommandRecord: one command execution with arguments, outcome and latency
//
// A command ends with one of three outcomes:
//
//   - ok: the remote side returned a value
//   - error: the remote side returned a QAPI error (class and desc are kept)
//   - failed: no reply arrived, e.g. the connection dropped or the command timed out
//
// # SQLite Configuration
//
// The store uses WAL mode so history queries can run while a watcher records:
//
//	PRAGMA journal_mode=WAL;
//
// Timestamps are stored as fixed-width RFC 3339 text with nanoseconds, so
// ORDER BY on the text columns is chronological.
//
// # Usage
//
//	j, err := store.NewSQLiteStore(cfg.Journal.Path)
//	defer j.Close()
//	err = j.RecordEvent(ctx, store.NewEventRecord("vm1", ev))
//	recent, err := j.ListEvents(ctx, store.EventQuery{Endpoint: "vm1", Limit: 20})
package store
