// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentobs

import "time"

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// EventFilter selects events. Zero fields do not filter. From and To
// are inclusive; Since and AfterSequence are exclusive cursors. Tags
// match when the event carries any of them.
type EventFilter struct {
	SessionID     string    `json:"sessionId,omitempty"`
	ProjectID     int64     `json:"projectId,omitempty"`
	AgentID       string    `json:"agentId,omitempty"`
	EventType     EventType `json:"eventType,omitempty"`
	Severity      Severity  `json:"severity,omitempty"`
	From          time.Time `json:"from,omitzero"`
	To            time.Time `json:"to,omitzero"`
	Since         time.Time `json:"since,omitzero"`
	AfterSequence int64     `json:"afterSequence,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}

// NeedsPoll reports whether the filter narrows beyond a project, which
// the push channel cannot express.
func (f EventFilter) NeedsPoll() bool {
	return f.SessionID != "" || f.AgentID != "" || f.EventType != "" ||
		f.Severity != "" || len(f.Tags) > 0
}

// SessionFilter selects sessions. Active, when set, restricts to
// sessions that have (true) or have not (false) ended. From and To
// bound StartTime, inclusive.
type SessionFilter struct {
	ProjectID int64          `json:"projectId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Outcome   SessionOutcome `json:"outcome,omitempty"`
	Active    *bool          `json:"active,omitempty"`
	From      time.Time      `json:"from,omitzero"`
	To        time.Time      `json:"to,omitzero"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// EventStats aggregates a filtered event set. AverageDuration is the
// mean of metrics.duration (ms) over events that report a positive
// duration.
type EventStats struct {
	TotalEvents      int64               `json:"totalEvents"`
	EventsByType     map[EventType]int64 `json:"eventsByType"`
	EventsBySeverity map[Severity]int64  `json:"eventsBySeverity"`
	TotalTokens      int64               `json:"totalTokens"`
	AverageDuration  float64             `json:"averageDuration"`
}

// SessionStats aggregates a filtered session set. Averages cover only
// sessions that report the value.
type SessionStats struct {
	TotalSessions       int64                    `json:"totalSessions"`
	ActiveSessions      int64                    `json:"activeSessions"`
	SessionsByAgent     map[string]int64         `json:"sessionsByAgent"`
	SessionsByOutcome   map[SessionOutcome]int64 `json:"sessionsByOutcome"`
	AverageQualityScore float64                  `json:"averageQualityScore"`
	AverageDuration     float64                  `json:"averageDuration"`
	TotalTokensUsed     int64                    `json:"totalTokensUsed"`
}

// TimelineEvent is one session event rendered for display.
type TimelineEvent struct {
	ID          string         `json:"id"`
	Sequence    int64          `json:"sequence"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity,omitempty"`
	Data        map[string]any `json:"data"`
}

// Granularity is a time-series bucket width.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == GranularityDay || g == GranularityWeek || g == GranularityMonth
}

// TimeSeriesBucket counts activity in [Start, next bucket's Start).
type TimeSeriesBucket struct {
	Start      time.Time `json:"start"`
	EventCount int64     `json:"eventCount"`
	TokenCount int64     `json:"tokenCount"`
	ErrorCount int64     `json:"errorCount"`
}

// TimeSeries is a dense bucketed series.
type TimeSeries struct {
	ProjectID   int64              `json:"projectId,omitempty"`
	Days        int                `json:"days"`
	Granularity Granularity        `json:"granularity"`
	Buckets     []TimeSeriesBucket `json:"buckets"`
}

// RejectedEvent reports one batch event that was not stored.
type RejectedEvent struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind"`
	Entity  string `json:"entity,omitempty"`
	Message string `json:"message"`
}

// BatchResult summarizes a batch ingestion. Created +
// DuplicatesSkipped + len(Rejected) always equals Requested.
type BatchResult struct {
	Created           int             `json:"created"`
	Requested         int             `json:"requested"`
	DuplicatesSkipped int             `json:"duplicatesSkipped"`
	Rejected          []RejectedEvent `json:"rejected,omitempty"`
}
