// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

const eventColumns = "seq, id, timestamp, type, agent_id, agent_version, session_id, " +
	"project_id, context, data, metrics, parent_event_id, related_event_ids, tags, " +
	"severity, machine_ref, workspace_ref"

// InsertEvents appends events in one IMMEDIATE transaction. An event
// whose id already exists is skipped, not overwritten. The returned
// slice reports, per input index, whether that event was written; for
// written events Sequence is filled in place.
//
// Every event must already carry an id and timestamp.
func (s *Store) InsertEvents(ctx context.Context, events []agentobs.AgentEvent) ([]bool, error) {
	inserted, _, err := s.InsertEventsWithMetrics(ctx, events, nil)
	return inserted, err
}

// MetricsFunc derives per-session metric increments from the events a
// transaction wrote.
type MetricsFunc func(written []agentobs.AgentEvent) map[string]agentobs.SessionMetrics

// InsertEventsWithMetrics inserts events as InsertEvents does and, in
// the same transaction, applies the increments derive returns for the
// events actually written. Both commit or neither does. applied lists
// the sessions whose counters changed; increments for ended or unknown
// sessions are dropped. A nil derive applies nothing.
func (s *Store) InsertEventsWithMetrics(ctx context.Context, events []agentobs.AgentEvent, derive MetricsFunc) (inserted []bool, applied []string, err error) {
	if len(events) == 0 {
		return nil, nil, nil
	}

	conn, err := s.take(ctx, "insert events")
	if err != nil {
		return nil, nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, nil, s.fail("insert events: begin", err)
	}
	defer endTransaction(&err)

	inserted = make([]bool, len(events))
	var written []agentobs.AgentEvent
	for i := range events {
		ok, insertErr := insertEvent(conn, &events[i])
		if insertErr != nil {
			return nil, nil, s.fail(fmt.Sprintf("insert event %s", events[i].ID), insertErr)
		}
		inserted[i] = ok
		if ok {
			written = append(written, events[i])
		}
	}

	if derive == nil || len(written) == 0 {
		return inserted, nil, nil
	}
	applied, err = s.applySessionMetrics(conn, derive(written))
	if err != nil {
		return nil, nil, err
	}
	return inserted, applied, nil
}

func insertEvent(conn *sqlite.Conn, event *agentobs.AgentEvent) (bool, error) {
	if event.ID == "" || event.Timestamp.IsZero() {
		return false, fmt.Errorf("event requires id and timestamp")
	}

	contextJSON, err := encodeJSON(event.Context)
	if err != nil {
		return false, fmt.Errorf("marshal context: %w", err)
	}
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := encodeJSON(data)
	if err != nil {
		return false, fmt.Errorf("marshal data: %w", err)
	}
	if dataJSON == nil {
		dataJSON = "{}"
	}
	var metricsJSON, duration any
	if event.Metrics != nil {
		if metricsJSON, err = encodeJSON(event.Metrics); err != nil {
			return false, fmt.Errorf("marshal metrics: %w", err)
		}
		duration = nullableInt(event.Metrics.Duration)
	}
	relatedJSON, err := encodeJSON(event.RelatedEventIDs)
	if err != nil {
		return false, fmt.Errorf("marshal related ids: %w", err)
	}
	tagsJSON, err := encodeJSON(event.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}

	var machineRef, workspaceRef any
	if event.MachineRef != 0 {
		machineRef = event.MachineRef
	}
	if event.WorkspaceRef != 0 {
		workspaceRef = event.WorkspaceRef
	}

	err = sqlitex.Execute(conn, `INSERT INTO agent_events
		(id, timestamp, type, agent_id, agent_version, session_id, project_id,
		 context, data, metrics, duration_ms, tokens, parent_event_id,
		 related_event_ids, tags, severity, machine_ref, workspace_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{
			event.ID,
			nanos(event.Timestamp),
			string(event.Type),
			event.AgentID,
			event.AgentVersion,
			event.SessionID,
			event.ProjectID,
			contextJSON,
			dataJSON,
			metricsJSON,
			duration,
			event.Metrics.Tokens(),
			nullableText(event.ParentEventID),
			relatedJSON,
			tagsJSON,
			nullableText(string(event.Severity)),
			machineRef,
			workspaceRef,
		},
	})
	if err != nil {
		return false, err
	}
	if conn.Changes() == 0 {
		return false, nil
	}
	event.Sequence = conn.LastInsertRowID()
	return true, nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*agentobs.AgentEvent, error) {
	conn, err := s.take(ctx, "get event")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var found *agentobs.AgentEvent
	err = sqlitex.Execute(conn, "SELECT "+eventColumns+" FROM agent_events WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event, err := scanEvent(stmt)
			if err != nil {
				return err
			}
			found = &event
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("get event", err)
	}
	if found == nil {
		return nil, observeerr.NotFound("event", "event %s not found", id)
	}
	return found, nil
}

// QueryEvents returns events matching filter, newest first. Equal
// timestamps are ordered by descending sequence. Limit defaults to
// agentobs.DefaultLimit.
func (s *Store) QueryEvents(ctx context.Context, filter agentobs.EventFilter) ([]agentobs.AgentEvent, error) {
	return s.queryEvents(ctx, "query events", filter, "timestamp DESC, seq DESC")
}

// EventsAfter returns events matching filter with a sequence above
// filter.AfterSequence, in ascending sequence order. Stream pollers
// use it to resume from the last sequence they delivered.
func (s *Store) EventsAfter(ctx context.Context, filter agentobs.EventFilter) ([]agentobs.AgentEvent, error) {
	filter.Offset = 0
	return s.queryEvents(ctx, "events after", filter, "seq ASC")
}

// SessionEvents returns every event of a session in ascending
// (timestamp, sequence) order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]agentobs.AgentEvent, error) {
	conn, err := s.take(ctx, "session events")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []agentobs.AgentEvent
	err = sqlitex.Execute(conn, "SELECT "+eventColumns+
		" FROM agent_events WHERE session_id = ? ORDER BY timestamp ASC, seq ASC", &sqlitex.ExecOptions{
		Args: []any{sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event, err := scanEvent(stmt)
			if err != nil {
				return err
			}
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("session events", err)
	}
	return events, nil
}

// LatestSequence returns the highest assigned event sequence, or 0.
func (s *Store) LatestSequence(ctx context.Context) (int64, error) {
	conn, err := s.take(ctx, "latest sequence")
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var latest int64
	err = sqlitex.Execute(conn, "SELECT COALESCE(MAX(seq), 0) FROM agent_events", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			latest = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, s.fail("latest sequence", err)
	}
	return latest, nil
}

func (s *Store) queryEvents(ctx context.Context, operation string, filter agentobs.EventFilter, order string) ([]agentobs.AgentEvent, error) {
	conn, err := s.take(ctx, operation)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	conditions, args := eventConditions(filter)
	query := "SELECT " + eventColumns + " FROM agent_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + order + " LIMIT ? OFFSET ?"
	args = append(args, agentobs.ClampLimit(filter.Limit), max(filter.Offset, 0))

	var events []agentobs.AgentEvent
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event, err := scanEvent(stmt)
			if err != nil {
				return err
			}
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(operation, err)
	}
	return events, nil
}

// eventConditions translates a filter into WHERE clauses. Shared by the
// listing and aggregation queries so both see the same event set.
func eventConditions(filter agentobs.EventFilter) ([]string, []any) {
	var conditions []string
	var args []any

	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.ProjectID > 0 {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, nanos(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, nanos(filter.To))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp > ?")
		args = append(args, nanos(filter.Since))
	}
	if filter.AfterSequence > 0 {
		conditions = append(conditions, "seq > ?")
		args = append(args, filter.AfterSequence)
	}
	if len(filter.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Tags)), ", ")
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM json_each(agent_events.tags) WHERE json_each.value IN ("+placeholders+"))")
		for _, tag := range filter.Tags {
			args = append(args, tag)
		}
	}
	return conditions, args
}

func scanEvent(stmt *sqlite.Stmt) (agentobs.AgentEvent, error) {
	// Columns: seq(0), id(1), timestamp(2), type(3), agent_id(4),
	// agent_version(5), session_id(6), project_id(7), context(8),
	// data(9), metrics(10), parent_event_id(11), related_event_ids(12),
	// tags(13), severity(14), machine_ref(15), workspace_ref(16)
	event := agentobs.AgentEvent{
		Sequence:      stmt.ColumnInt64(0),
		ID:            stmt.ColumnText(1),
		Timestamp:     fromNanos(stmt.ColumnInt64(2)),
		Type:          agentobs.EventType(stmt.ColumnText(3)),
		AgentID:       stmt.ColumnText(4),
		AgentVersion:  stmt.ColumnText(5),
		SessionID:     stmt.ColumnText(6),
		ProjectID:     stmt.ColumnInt64(7),
		ParentEventID: stmt.ColumnText(11),
		Severity:      agentobs.Severity(stmt.ColumnText(14)),
		MachineRef:    stmt.ColumnInt64(15),
		WorkspaceRef:  stmt.ColumnInt64(16),
	}

	if err := decodeJSONColumn(stmt, 8, &event.Context); err != nil {
		return event, fmt.Errorf("decoding context of event %s: %w", event.ID, err)
	}
	if err := decodeJSONColumn(stmt, 9, &event.Data); err != nil {
		return event, fmt.Errorf("decoding data of event %s: %w", event.ID, err)
	}
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	if !stmt.ColumnIsNull(10) {
		event.Metrics = &agentobs.EventMetrics{}
		if err := decodeJSONColumn(stmt, 10, event.Metrics); err != nil {
			return event, fmt.Errorf("decoding metrics of event %s: %w", event.ID, err)
		}
	}
	if err := decodeJSONColumn(stmt, 12, &event.RelatedEventIDs); err != nil {
		return event, fmt.Errorf("decoding related ids of event %s: %w", event.ID, err)
	}
	if err := decodeJSONColumn(stmt, 13, &event.Tags); err != nil {
		return event, fmt.Errorf("decoding tags of event %s: %w", event.ID, err)
	}
	return event, nil
}
