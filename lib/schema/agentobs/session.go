// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentobs

import "time"

// SessionOutcome is how a session ended.
type SessionOutcome string

const (
	OutcomeSuccess   SessionOutcome = "success"
	OutcomePartial   SessionOutcome = "partial"
	OutcomeFailure   SessionOutcome = "failure"
	OutcomeAbandoned SessionOutcome = "abandoned"
)

// Valid reports whether o is a known outcome.
func (o SessionOutcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure, OutcomeAbandoned:
		return true
	}
	return false
}

// TriggerSource records what started a session.
type TriggerSource string

const (
	TriggerManual     TriggerSource = "manual"
	TriggerAutomation TriggerSource = "automation"
	TriggerSchedule   TriggerSource = "schedule"
)

// SessionContext describes the work a session set out to do.
type SessionContext struct {
	Objective        string        `json:"objective,omitempty"`
	DevlogID         string        `json:"devlogId,omitempty"`
	Branch           string        `json:"branch,omitempty"`
	InitialCommit    string        `json:"initialCommit,omitempty"`
	FinalCommit      string        `json:"finalCommit,omitempty"`
	TriggeredBy      TriggerSource `json:"triggeredBy,omitempty"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
}

// SessionMetrics are counters accumulated from a session's events. All
// are non-decreasing while the session is active and frozen once it
// ends.
type SessionMetrics struct {
	EventsCount       int64 `json:"eventsCount"`
	FilesRead         int64 `json:"filesRead"`
	FilesModified     int64 `json:"filesModified"`
	LinesAdded        int64 `json:"linesAdded"`
	LinesRemoved      int64 `json:"linesRemoved"`
	TokensUsed        int64 `json:"tokensUsed"`
	CommandsExecuted  int64 `json:"commandsExecuted"`
	ErrorsEncountered int64 `json:"errorsEncountered"`
	TestsRun          int64 `json:"testsRun"`
	TestsPassed       int64 `json:"testsPassed"`
	BuildAttempts     int64 `json:"buildAttempts"`
	BuildSuccesses    int64 `json:"buildSuccesses"`
}

// Add accumulates delta into m.
func (m *SessionMetrics) Add(delta SessionMetrics) {
	m.EventsCount += delta.EventsCount
	m.FilesRead += delta.FilesRead
	m.FilesModified += delta.FilesModified
	m.LinesAdded += delta.LinesAdded
	m.LinesRemoved += delta.LinesRemoved
	m.TokensUsed += delta.TokensUsed
	m.CommandsExecuted += delta.CommandsExecuted
	m.ErrorsEncountered += delta.ErrorsEncountered
	m.TestsRun += delta.TestsRun
	m.TestsPassed += delta.TestsPassed
	m.BuildAttempts += delta.BuildAttempts
	m.BuildSuccesses += delta.BuildSuccesses
}

// IsZero reports whether every counter is zero.
func (m SessionMetrics) IsZero() bool {
	return m == SessionMetrics{}
}

// AgentSession is one continuous unit of agent work. A session is
// active while EndTime is nil.
type AgentSession struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agentId"`
	AgentVersion string         `json:"agentVersion"`
	ProjectID    int64          `json:"projectId"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	Duration     *int64         `json:"duration,omitempty"`
	Context      SessionContext `json:"context"`
	Metrics      SessionMetrics `json:"metrics"`
	Outcome      SessionOutcome `json:"outcome,omitempty"`
	QualityScore *float64       `json:"qualityScore,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Active reports whether the session has not ended.
func (s *AgentSession) Active() bool { return s.EndTime == nil }

// AutoCreated reports whether ingestion provisioned the session.
func (s *AgentSession) AutoCreated() bool {
	flag, _ := s.Metadata["autoCreated"].(bool)
	return flag
}

// StartSessionInput is the body of an explicit session start. ID is
// generated when empty; StartTime defaults to now.
type StartSessionInput struct {
	ID           string         `json:"id,omitempty"`
	AgentID      string         `json:"agentId"`
	AgentVersion string         `json:"agentVersion"`
	ProjectID    int64          `json:"projectId"`
	StartTime    time.Time      `json:"startTime,omitzero"`
	Context      SessionContext `json:"context"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EndSessionInput is the body of a session end.
type EndSessionInput struct {
	Outcome      SessionOutcome `json:"outcome,omitempty"`
	QualityScore *float64       `json:"qualityScore,omitempty"`
	FinalCommit  string         `json:"finalCommit,omitempty"`
}
