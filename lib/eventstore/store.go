// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventstore persists the agent observability data: the
// append-only event log, mutable session records, the machine and
// workspace hierarchy, and read-side project rows.
//
// Everything lives in one SQLite database opened through sqlitepool.
// Timestamps are stored as Unix nanoseconds. Each event gets a store
// sequence (an AUTOINCREMENT rowid) that totally orders events with
// equal timestamps and serves as the resume cursor for polling
// streams.
//
// Writes that must be atomic (an ingestion batch, a session end, a
// round of metric increments) run in a single IMMEDIATE transaction.
// Session metrics are only ever changed by relative UPDATEs guarded by
// end_time IS NULL, so concurrent ingestion for one session never
// loses increments and an ended session's metrics never change.
//
// Write-lock contention and pool exhaustion surface as
// observeerr.KindTransientStore errors; lookups of unknown ids as
// KindNotFound; lifecycle violations as KindConflict.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/sqlitepool"
)

// Store is the SQLite-backed event store. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. Its directory must exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// BusyTimeout bounds how long a writer waits for the write lock.
	BusyTimeout time.Duration

	// Clock stamps created/last-seen times. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Open opens (creating if needed) the database and verifies the schema
// by taking one connection.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("event store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("event store: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        cfg.Path,
		PoolSize:    poolSize,
		BusyTimeout: cfg.BusyTimeout,
		Schema:      schema,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	store := &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("event store: preparing schema: %w", err)
	}
	pool.Put(conn)

	return store, nil
}

// Close closes the connection pool, waiting for borrowed connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks that a connection can be taken and queried.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.take(ctx, "ping")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteTransient(conn, "SELECT 1", nil); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS projects (
		id         INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		metadata   TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS machines (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		machine_id   TEXT NOT NULL UNIQUE,
		hostname     TEXT NOT NULL DEFAULT '',
		username     TEXT NOT NULL DEFAULT '',
		os_type      TEXT NOT NULL DEFAULT '',
		os_version   TEXT NOT NULL DEFAULT '',
		machine_type TEXT NOT NULL DEFAULT 'local',
		ip_address   TEXT NOT NULL DEFAULT '',
		metadata     TEXT,
		created_at   INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id   TEXT NOT NULL UNIQUE,
		project_id     INTEGER NOT NULL,
		machine_ref    INTEGER NOT NULL,
		workspace_path TEXT NOT NULL DEFAULT '',
		workspace_type TEXT NOT NULL DEFAULT 'folder',
		branch         TEXT NOT NULL DEFAULT '',
		commit_hash    TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		last_seen_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workspaces_project ON workspaces(project_id);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		id                 TEXT PRIMARY KEY,
		agent_id           TEXT NOT NULL,
		agent_version      TEXT NOT NULL,
		project_id         INTEGER NOT NULL,
		start_time         INTEGER NOT NULL,
		end_time           INTEGER,
		duration           INTEGER,
		context            TEXT,
		events_count       INTEGER NOT NULL DEFAULT 0,
		files_read         INTEGER NOT NULL DEFAULT 0,
		files_modified     INTEGER NOT NULL DEFAULT 0,
		lines_added        INTEGER NOT NULL DEFAULT 0,
		lines_removed      INTEGER NOT NULL DEFAULT 0,
		tokens_used        INTEGER NOT NULL DEFAULT 0,
		commands_executed  INTEGER NOT NULL DEFAULT 0,
		errors_encountered INTEGER NOT NULL DEFAULT 0,
		tests_run          INTEGER NOT NULL DEFAULT 0,
		tests_passed       INTEGER NOT NULL DEFAULT 0,
		build_attempts     INTEGER NOT NULL DEFAULT 0,
		build_successes    INTEGER NOT NULL DEFAULT 0,
		outcome            TEXT,
		quality_score      REAL,
		metadata           TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON agent_sessions(project_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON agent_sessions(end_time) WHERE end_time IS NULL;

	CREATE TABLE IF NOT EXISTS agent_events (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		timestamp         INTEGER NOT NULL,
		type              TEXT NOT NULL,
		agent_id          TEXT NOT NULL,
		agent_version     TEXT NOT NULL,
		session_id        TEXT NOT NULL,
		project_id        INTEGER NOT NULL,
		context           TEXT NOT NULL,
		data              TEXT NOT NULL,
		metrics           TEXT,
		duration_ms       INTEGER,
		tokens            INTEGER NOT NULL DEFAULT 0,
		parent_event_id   TEXT,
		related_event_ids TEXT,
		tags              TEXT,
		severity          TEXT,
		machine_ref       INTEGER,
		workspace_ref     INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON agent_events(timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_events_session ON agent_events(session_id, timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_events_project ON agent_events(project_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON agent_events(agent_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON agent_events(type, timestamp);
`

// take borrows a connection, classifying failure as transient.
func (s *Store) take(ctx context.Context, operation string) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, observeerr.TransientStore(err, "event store: %s: no connection available", operation)
	}
	return conn, nil
}

// fail wraps a statement error. Lock contention becomes a transient
// store error; classified errors pass through.
func (s *Store) fail(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := observeerr.As(err); ok {
		return err
	}
	if sqlitepool.IsBusy(err) {
		return observeerr.TransientStore(err, "event store: %s", operation)
	}
	return fmt.Errorf("event store: %s: %w", operation, err)
}

// nanos converts t to the stored representation. The zero time is
// stored as 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos converts a stored timestamp back to UTC time.
func fromNanos(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(0, value).UTC()
}

// encodeJSON returns v as a JSON string, or nil (SQL NULL) when v is
// empty.
func encodeJSON(v any) (any, error) {
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(typed) == 0 {
			return nil, nil
		}
	case []string:
		if len(typed) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodeJSONColumn unmarshals column i into target when non-NULL.
func decodeJSONColumn(stmt *sqlite.Stmt, column int, target any) error {
	if stmt.ColumnIsNull(column) {
		return nil
	}
	text := stmt.ColumnText(column)
	if text == "" {
		return nil
	}
	return json.Unmarshal([]byte(text), target)
}

// nullableInt returns SQL NULL for a nil pointer.
func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

// nullableText returns SQL NULL for an empty string.
func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}
