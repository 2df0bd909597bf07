// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// EventStats aggregates the events matching filter in a single grouped
// query. Limit, Offset and the cursor fields of filter still apply as
// filters but paging does not. An empty result has zero totals and
// empty, non-nil maps.
func (s *Store) EventStats(ctx context.Context, filter agentobs.EventFilter) (*agentobs.EventStats, error) {
	conn, err := s.take(ctx, "event stats")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	conditions, args := eventConditions(filter)
	query := `SELECT type, COALESCE(severity, ''), COUNT(*), COALESCE(SUM(tokens), 0),
		COALESCE(SUM(CASE WHEN duration_ms > 0 THEN duration_ms END), 0),
		COUNT(CASE WHEN duration_ms > 0 THEN 1 END)
		FROM agent_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " GROUP BY type, severity"

	stats := &agentobs.EventStats{
		EventsByType:     make(map[agentobs.EventType]int64),
		EventsBySeverity: make(map[agentobs.Severity]int64),
	}
	var durationSum, durationCount int64
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count := stmt.ColumnInt64(2)
			stats.TotalEvents += count
			stats.EventsByType[agentobs.EventType(stmt.ColumnText(0))] += count
			if severity := stmt.ColumnText(1); severity != "" {
				stats.EventsBySeverity[agentobs.Severity(severity)] += count
			}
			stats.TotalTokens += stmt.ColumnInt64(3)
			durationSum += stmt.ColumnInt64(4)
			durationCount += stmt.ColumnInt64(5)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("event stats", err)
	}
	if durationCount > 0 {
		stats.AverageDuration = float64(durationSum) / float64(durationCount)
	}
	return stats, nil
}

// SessionStats aggregates the sessions matching filter. Averages cover
// only sessions that carry the value; paging fields are ignored.
func (s *Store) SessionStats(ctx context.Context, filter agentobs.SessionFilter) (*agentobs.SessionStats, error) {
	conn, err := s.take(ctx, "session stats")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	conditions, args := sessionConditions(filter)
	query := `SELECT agent_id, COALESCE(outcome, ''), COUNT(*),
		COUNT(CASE WHEN end_time IS NULL THEN 1 END),
		COALESCE(SUM(quality_score), 0), COUNT(quality_score),
		COALESCE(SUM(duration), 0), COUNT(duration),
		COALESCE(SUM(tokens_used), 0)
		FROM agent_sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " GROUP BY agent_id, outcome"

	stats := &agentobs.SessionStats{
		SessionsByAgent:   make(map[string]int64),
		SessionsByOutcome: make(map[agentobs.SessionOutcome]int64),
	}
	var scoreSum, durationSum float64
	var scoreCount, durationCount int64
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count := stmt.ColumnInt64(2)
			stats.TotalSessions += count
			stats.SessionsByAgent[stmt.ColumnText(0)] += count
			if outcome := stmt.ColumnText(1); outcome != "" {
				stats.SessionsByOutcome[agentobs.SessionOutcome(outcome)] += count
			}
			stats.ActiveSessions += stmt.ColumnInt64(3)
			scoreSum += stmt.ColumnFloat(4)
			scoreCount += stmt.ColumnInt64(5)
			durationSum += stmt.ColumnFloat(6)
			durationCount += stmt.ColumnInt64(7)
			stats.TotalTokensUsed += stmt.ColumnInt64(8)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("session stats", err)
	}
	if scoreCount > 0 {
		stats.AverageQualityScore = scoreSum / float64(scoreCount)
	}
	if durationCount > 0 {
		stats.AverageDuration = durationSum / float64(durationCount)
	}
	return stats, nil
}

// DayCount is one UTC day of event activity.
type DayCount struct {
	Day    time.Time
	Events int64
	Tokens int64
	Errors int64
}

const nanosPerDay = int64(24 * time.Hour)

// DailyCounts returns per-UTC-day activity for events in [from, to),
// optionally restricted to one project. Days without events are
// omitted. An event counts as an error when its type is
// error_encountered or its severity is error or critical.
func (s *Store) DailyCounts(ctx context.Context, projectID int64, from, to time.Time) ([]DayCount, error) {
	conn, err := s.take(ctx, "daily counts")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	conditions := []string{"timestamp >= ?", "timestamp < ?"}
	args := []any{nanos(from), nanos(to)}
	if projectID > 0 {
		conditions = append(conditions, "project_id = ?")
		args = append(args, projectID)
	}

	query := `SELECT timestamp / ? AS day, COUNT(*), COALESCE(SUM(tokens), 0),
		COUNT(CASE WHEN type = 'error_encountered' OR severity IN ('error', 'critical') THEN 1 END)
		FROM agent_events WHERE ` + strings.Join(conditions, " AND ") + `
		GROUP BY day ORDER BY day`
	args = append([]any{nanosPerDay}, args...)

	var days []DayCount
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			days = append(days, DayCount{
				Day:    time.Unix(0, stmt.ColumnInt64(0)*nanosPerDay).UTC(),
				Events: stmt.ColumnInt64(1),
				Tokens: stmt.ColumnInt64(2),
				Errors: stmt.ColumnInt64(3),
			})
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("daily counts", err)
	}
	return days, nil
}
