// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentobs

import (
	"fmt"
	"math"
	"time"
)

// EventType is the kind of agent activity an event records.
type EventType string

const (
	EventSessionStart      EventType = "session_start"
	EventSessionEnd        EventType = "session_end"
	EventFileRead          EventType = "file_read"
	EventFileWrite         EventType = "file_write"
	EventFileCreate        EventType = "file_create"
	EventFileDelete        EventType = "file_delete"
	EventCommandExecute    EventType = "command_execute"
	EventTestRun           EventType = "test_run"
	EventBuildTrigger      EventType = "build_trigger"
	EventSearchPerformed   EventType = "search_performed"
	EventLLMRequest        EventType = "llm_request"
	EventLLMResponse       EventType = "llm_response"
	EventErrorEncountered  EventType = "error_encountered"
	EventRollbackPerformed EventType = "rollback_performed"
	EventCommitCreated     EventType = "commit_created"
	EventToolInvocation    EventType = "tool_invocation"
	EventUserInteraction   EventType = "user_interaction"
	EventContextSwitch     EventType = "context_switch"
)

// EventTypes lists every valid EventType in declaration order.
var EventTypes = []EventType{
	EventSessionStart, EventSessionEnd,
	EventFileRead, EventFileWrite, EventFileCreate, EventFileDelete,
	EventCommandExecute, EventTestRun, EventBuildTrigger,
	EventSearchPerformed, EventLLMRequest, EventLLMResponse,
	EventErrorEncountered, EventRollbackPerformed, EventCommitCreated,
	EventToolInvocation, EventUserInteraction, EventContextSwitch,
}

// collectorAliases maps type names emitted by older collector builds
// to their canonical EventType.
var collectorAliases = map[string]EventType{
	"tool_use":          EventToolInvocation,
	"command_execution": EventCommandExecute,
	"file_modify":       EventFileWrite,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsFileMutation reports whether t changes a file on disk.
func (t EventType) IsFileMutation() bool {
	return t == EventFileWrite || t == EventFileCreate || t == EventFileDelete
}

// NormalizeEventType returns the canonical form of a type name,
// resolving legacy collector aliases. Unknown names pass through
// unchanged so validation can report them.
func NormalizeEventType(name string) EventType {
	if canonical, ok := collectorAliases[name]; ok {
		return canonical
	}
	return EventType(name)
}

// Severity grades an event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// EventContext is where an event happened. WorkingDirectory is
// required; the machine and workspace fields feed hierarchy
// resolution and are optional.
type EventContext struct {
	WorkingDirectory string `json:"workingDirectory"`
	FilePath         string `json:"filePath,omitempty"`
	Branch           string `json:"branch,omitempty"`
	Commit           string `json:"commit,omitempty"`
	DevlogID         string `json:"devlogId,omitempty"`

	MachineID string `json:"machineId,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	Username  string `json:"username,omitempty"`
	OSType    string `json:"osType,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`

	WorkspaceID   string `json:"workspaceId,omitempty"`
	WorkspacePath string `json:"workspacePath,omitempty"`
	WorkspaceType string `json:"workspaceType,omitempty"`
}

// EventMetrics are optional measurements attached to an event.
// Duration is in milliseconds. LinesChanged is signed: negative means
// net removal.
type EventMetrics struct {
	Duration       *int64 `json:"duration,omitempty"`
	TokenCount     *int64 `json:"tokenCount,omitempty"`
	FileSize       *int64 `json:"fileSize,omitempty"`
	LinesChanged   *int64 `json:"linesChanged,omitempty"`
	PromptTokens   *int64 `json:"promptTokens,omitempty"`
	ResponseTokens *int64 `json:"responseTokens,omitempty"`
}

// Tokens returns the event's token usage: TokenCount when present,
// otherwise the sum of prompt and response tokens.
func (m *EventMetrics) Tokens() int64 {
	if m == nil {
		return 0
	}
	if m.TokenCount != nil {
		return *m.TokenCount
	}
	var total int64
	if m.PromptTokens != nil {
		total += *m.PromptTokens
	}
	if m.ResponseTokens != nil {
		total += *m.ResponseTokens
	}
	return total
}

// AgentEvent is one immutable fact about agent activity.
//
// On input, ID and Timestamp may be empty: single-event ingestion
// always assigns both, and batch ingestion requires Timestamp and
// derives a deterministic ID when absent. Sequence, MachineRef and
// WorkspaceRef are assigned by the server.
type AgentEvent struct {
	ID           string         `json:"id,omitempty"`
	Sequence     int64          `json:"sequence,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         EventType      `json:"type"`
	AgentID      string         `json:"agentId"`
	AgentVersion string         `json:"agentVersion"`
	SessionID    string         `json:"sessionId"`
	ProjectID    int64          `json:"projectId"`
	Context      EventContext   `json:"context"`
	Data         map[string]any `json:"data"`
	Metrics      *EventMetrics  `json:"metrics,omitempty"`

	ParentEventID   string   `json:"parentEventId,omitempty"`
	RelatedEventIDs []string `json:"relatedEventIds,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Severity        Severity `json:"severity,omitempty"`

	MachineRef   int64 `json:"machineRef,omitempty"`
	WorkspaceRef int64 `json:"workspaceRef,omitempty"`
}

// Times are stored as Unix nanoseconds, so only instants between
// MinTime and MaxTime (1677-09-21 to 2262-04-11) round-trip.
var (
	MinTime = time.Unix(0, math.MinInt64).UTC()
	MaxTime = time.Unix(0, math.MaxInt64).UTC()
)

// StorableTime reports whether t is zero or lies within MinTime and
// MaxTime.
func StorableTime(t time.Time) bool {
	return t.IsZero() || (!t.Before(MinTime) && !t.After(MaxTime))
}

// Validate returns the names of missing or invalid fields, or nil.
// Type is normalized in place before checking. When requireTimestamp
// is set, a zero Timestamp is also reported; a Timestamp outside
// MinTime and MaxTime always is.
func (e *AgentEvent) Validate(requireTimestamp bool) []string {
	var invalid []string

	e.Type = NormalizeEventType(string(e.Type))
	if e.Type == "" {
		invalid = append(invalid, "type")
	} else if !e.Type.Valid() {
		invalid = append(invalid, fmt.Sprintf("type (unknown %q)", e.Type))
	}
	if e.AgentID == "" {
		invalid = append(invalid, "agentId")
	}
	if e.AgentVersion == "" {
		invalid = append(invalid, "agentVersion")
	}
	if e.SessionID == "" {
		invalid = append(invalid, "sessionId")
	}
	if e.ProjectID <= 0 {
		invalid = append(invalid, "projectId")
	}
	if e.Context.WorkingDirectory == "" {
		invalid = append(invalid, "context.workingDirectory")
	}
	if e.Data == nil {
		invalid = append(invalid, "data")
	}
	if e.Severity != "" && !e.Severity.Valid() {
		invalid = append(invalid, fmt.Sprintf("severity (unknown %q)", e.Severity))
	}
	switch {
	case requireTimestamp && e.Timestamp.IsZero():
		invalid = append(invalid, "timestamp")
	case !StorableTime(e.Timestamp):
		invalid = append(invalid, "timestamp (out of range)")
	}
	return invalid
}
