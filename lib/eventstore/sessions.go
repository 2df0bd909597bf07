// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

const sessionColumns = "id, agent_id, agent_version, project_id, start_time, end_time, " +
	"duration, context, events_count, files_read, files_modified, lines_added, " +
	"lines_removed, tokens_used, commands_executed, errors_encountered, tests_run, " +
	"tests_passed, build_attempts, build_successes, outcome, quality_score, metadata"

// CreateSession inserts a new active session. Any existing session
// with the same id, active or ended, is a conflict.
func (s *Store) CreateSession(ctx context.Context, session *agentobs.AgentSession) (err error) {
	conn, err := s.take(ctx, "create session")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return s.fail("create session: begin", err)
	}
	defer endTransaction(&err)

	existing, err := getSession(conn, session.ID)
	if err != nil {
		return s.fail("create session", err)
	}
	if existing != nil {
		state := "active"
		if !existing.Active() {
			state = "ended"
		}
		return observeerr.Conflict("session", "session %s already exists and is %s", session.ID, state)
	}

	if _, err := insertSession(conn, session); err != nil {
		return s.fail("create session", err)
	}
	return nil
}

// CreateSessionsIfAbsent inserts every session whose id is not yet
// stored and leaves existing ones untouched. It returns the sessions
// that were created.
func (s *Store) CreateSessionsIfAbsent(ctx context.Context, sessions []agentobs.AgentSession) (created []agentobs.AgentSession, err error) {
	if len(sessions) == 0 {
		return nil, nil
	}

	conn, err := s.take(ctx, "create sessions")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, s.fail("create sessions: begin", err)
	}
	defer endTransaction(&err)

	for i := range sessions {
		written, insertErr := insertSession(conn, &sessions[i])
		if insertErr != nil {
			return nil, s.fail(fmt.Sprintf("create session %s", sessions[i].ID), insertErr)
		}
		if written {
			created = append(created, sessions[i])
		}
	}
	return created, nil
}

func insertSession(conn *sqlite.Conn, session *agentobs.AgentSession) (bool, error) {
	contextJSON, err := encodeJSON(session.Context)
	if err != nil {
		return false, fmt.Errorf("marshal session context: %w", err)
	}
	metadataJSON, err := encodeJSON(session.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal session metadata: %w", err)
	}

	err = sqlitex.Execute(conn, `INSERT INTO agent_sessions
		(id, agent_id, agent_version, project_id, start_time, context, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{
			session.ID,
			session.AgentID,
			session.AgentVersion,
			session.ProjectID,
			nanos(session.StartTime),
			contextJSON,
			metadataJSON,
		},
	})
	if err != nil {
		return false, err
	}
	return conn.Changes() > 0, nil
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, id string) (*agentobs.AgentSession, error) {
	conn, err := s.take(ctx, "get session")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	session, err := getSession(conn, id)
	if err != nil {
		return nil, s.fail("get session", err)
	}
	if session == nil {
		return nil, observeerr.NotFound("session", "session %s not found", id)
	}
	return session, nil
}

// SessionsExist returns the subset of ids that are stored.
func (s *Store) SessionsExist(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	conn, err := s.take(ctx, "sessions exist")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err = sqlitex.Execute(conn, "SELECT id FROM agent_sessions WHERE id IN ("+placeholders+")", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			existing[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("sessions exist", err)
	}
	return existing, nil
}

func getSession(conn *sqlite.Conn, id string) (*agentobs.AgentSession, error) {
	var found *agentobs.AgentSession
	err := sqlitex.Execute(conn, "SELECT "+sessionColumns+" FROM agent_sessions WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			session, err := scanSession(stmt)
			if err != nil {
				return err
			}
			found = &session
			return nil
		},
	})
	return found, err
}

// ListSessions returns sessions matching filter, most recently started
// first.
func (s *Store) ListSessions(ctx context.Context, filter agentobs.SessionFilter) ([]agentobs.AgentSession, error) {
	conn, err := s.take(ctx, "list sessions")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	conditions, args := sessionConditions(filter)
	query := "SELECT " + sessionColumns + " FROM agent_sessions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, agentobs.ClampLimit(filter.Limit), max(filter.Offset, 0))

	var sessions []agentobs.AgentSession
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			session, err := scanSession(stmt)
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("list sessions", err)
	}
	return sessions, nil
}

func sessionConditions(filter agentobs.SessionFilter) ([]string, []any) {
	var conditions []string
	var args []any

	if filter.ProjectID > 0 {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.Active != nil {
		if *filter.Active {
			conditions = append(conditions, "end_time IS NULL")
		} else {
			conditions = append(conditions, "end_time IS NOT NULL")
		}
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, nanos(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "start_time <= ?")
		args = append(args, nanos(filter.To))
	}
	return conditions, args
}

// EndSessionParams are the values written when a session ends.
type EndSessionParams struct {
	EndTime      time.Time
	Outcome      agentobs.SessionOutcome
	QualityScore *float64
	FinalCommit  string
}

// EndSession marks an active session ended. Duration is whole seconds
// between start and end, floored. Unknown ids are NotFound; a session
// that has already ended is a Conflict.
func (s *Store) EndSession(ctx context.Context, id string, params EndSessionParams) (ended *agentobs.AgentSession, err error) {
	conn, err := s.take(ctx, "end session")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, s.fail("end session: begin", err)
	}
	defer endTransaction(&err)

	session, err := getSession(conn, id)
	if err != nil {
		return nil, s.fail("end session", err)
	}
	if session == nil {
		return nil, observeerr.NotFound("session", "session %s not found", id)
	}
	if !session.Active() {
		return nil, observeerr.Conflict("session", "session %s has already ended", id)
	}

	duration := int64(params.EndTime.Sub(session.StartTime) / time.Second)
	if duration < 0 {
		duration = 0
	}

	sessionContext := session.Context
	if params.FinalCommit != "" {
		sessionContext.FinalCommit = params.FinalCommit
	}
	contextJSON, err := encodeJSON(sessionContext)
	if err != nil {
		return nil, fmt.Errorf("event store: marshal session context: %w", err)
	}

	var qualityScore any
	if params.QualityScore != nil {
		qualityScore = *params.QualityScore
	}

	err = sqlitex.Execute(conn, `UPDATE agent_sessions
		SET end_time = ?, duration = ?, outcome = ?, quality_score = ?, context = ?
		WHERE id = ? AND end_time IS NULL`, &sqlitex.ExecOptions{
		Args: []any{
			nanos(params.EndTime),
			duration,
			nullableText(string(params.Outcome)),
			qualityScore,
			contextJSON,
			id,
		},
	})
	if err != nil {
		return nil, s.fail("end session", err)
	}

	ended, err = getSession(conn, id)
	if err != nil {
		return nil, s.fail("end session: reload", err)
	}
	return ended, nil
}

// ApplySessionMetrics adds each delta to its session's counters with a
// single relative UPDATE per session, all in one transaction. Ended
// sessions are not touched. Returns the ids whose metrics changed.
func (s *Store) ApplySessionMetrics(ctx context.Context, deltas map[string]agentobs.SessionMetrics) (applied []string, err error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	conn, err := s.take(ctx, "apply session metrics")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, s.fail("apply session metrics: begin", err)
	}
	defer endTransaction(&err)

	return s.applySessionMetrics(conn, deltas)
}

// applySessionMetrics runs the guarded increments on conn, inside the
// caller's transaction.
func (s *Store) applySessionMetrics(conn *sqlite.Conn, deltas map[string]agentobs.SessionMetrics) (applied []string, err error) {
	for sessionID, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		err := sqlitex.Execute(conn, `UPDATE agent_sessions SET
			events_count       = events_count + ?,
			files_read         = files_read + ?,
			files_modified     = files_modified + ?,
			lines_added        = lines_added + ?,
			lines_removed      = lines_removed + ?,
			tokens_used        = tokens_used + ?,
			commands_executed  = commands_executed + ?,
			errors_encountered = errors_encountered + ?,
			tests_run          = tests_run + ?,
			tests_passed       = tests_passed + ?,
			build_attempts     = build_attempts + ?,
			build_successes    = build_successes + ?
			WHERE id = ? AND end_time IS NULL`, &sqlitex.ExecOptions{
			Args: []any{
				delta.EventsCount, delta.FilesRead, delta.FilesModified,
				delta.LinesAdded, delta.LinesRemoved, delta.TokensUsed,
				delta.CommandsExecuted, delta.ErrorsEncountered, delta.TestsRun,
				delta.TestsPassed, delta.BuildAttempts, delta.BuildSuccesses,
				sessionID,
			},
		})
		if err != nil {
			return nil, s.fail(fmt.Sprintf("apply metrics to session %s", sessionID), err)
		}
		if conn.Changes() > 0 {
			applied = append(applied, sessionID)
		}
	}
	return applied, nil
}

func scanSession(stmt *sqlite.Stmt) (agentobs.AgentSession, error) {
	// Columns: id(0), agent_id(1), agent_version(2), project_id(3),
	// start_time(4), end_time(5), duration(6), context(7),
	// events_count(8) .. build_successes(19), outcome(20),
	// quality_score(21), metadata(22)
	session := agentobs.AgentSession{
		ID:           stmt.ColumnText(0),
		AgentID:      stmt.ColumnText(1),
		AgentVersion: stmt.ColumnText(2),
		ProjectID:    stmt.ColumnInt64(3),
		StartTime:    fromNanos(stmt.ColumnInt64(4)),
		Metrics: agentobs.SessionMetrics{
			EventsCount:       stmt.ColumnInt64(8),
			FilesRead:         stmt.ColumnInt64(9),
			FilesModified:     stmt.ColumnInt64(10),
			LinesAdded:        stmt.ColumnInt64(11),
			LinesRemoved:      stmt.ColumnInt64(12),
			TokensUsed:        stmt.ColumnInt64(13),
			CommandsExecuted:  stmt.ColumnInt64(14),
			ErrorsEncountered: stmt.ColumnInt64(15),
			TestsRun:          stmt.ColumnInt64(16),
			TestsPassed:       stmt.ColumnInt64(17),
			BuildAttempts:     stmt.ColumnInt64(18),
			BuildSuccesses:    stmt.ColumnInt64(19),
		},
		Outcome: agentobs.SessionOutcome(stmt.ColumnText(20)),
	}
	if !stmt.ColumnIsNull(5) {
		endTime := fromNanos(stmt.ColumnInt64(5))
		session.EndTime = &endTime
	}
	if !stmt.ColumnIsNull(6) {
		duration := stmt.ColumnInt64(6)
		session.Duration = &duration
	}
	if !stmt.ColumnIsNull(21) {
		score := stmt.ColumnFloat(21)
		session.QualityScore = &score
	}
	if err := decodeJSONColumn(stmt, 7, &session.Context); err != nil {
		return session, fmt.Errorf("decoding context of session %s: %w", session.ID, err)
	}
	if err := decodeJSONColumn(stmt, 22, &session.Metadata); err != nil {
		return session, fmt.Errorf("decoding metadata of session %s: %w", session.ID, err)
	}
	return session, nil
}
