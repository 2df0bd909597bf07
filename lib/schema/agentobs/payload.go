// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentobs

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed form of an event's data. Each EventType decodes
// to exactly one implementation.
type Payload interface {
	payload()
}

// SessionBoundaryData is the payload of session_start and session_end.
type SessionBoundaryData struct {
	Objective    string   `json:"objective,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
	QualityScore *float64 `json:"qualityScore,omitempty"`
}

// FileData is the payload of file_read, file_write, file_create and
// file_delete.
type FileData struct {
	FilePath     string `json:"filePath,omitempty"`
	Language     string `json:"language,omitempty"`
	LinesAdded   *int64 `json:"linesAdded,omitempty"`
	LinesRemoved *int64 `json:"linesRemoved,omitempty"`
	LinesChanged *int64 `json:"linesChanged,omitempty"`
	EditCount    int64  `json:"editCount,omitempty"`
}

// CommandData is the payload of command_execute.
type CommandData struct {
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Output   string `json:"output,omitempty"`
}

// TestRunData is the payload of test_run. Collectors report either
// counts or a single pass/fail flag.
type TestRunData struct {
	Command     string `json:"command,omitempty"`
	Framework   string `json:"framework,omitempty"`
	TestsRun    int64  `json:"testsRun,omitempty"`
	TestsPassed int64  `json:"testsPassed,omitempty"`
	TestsFailed int64  `json:"testsFailed,omitempty"`
	Passed      *bool  `json:"passed,omitempty"`
}

// BuildData is the payload of build_trigger.
type BuildData struct {
	Command string `json:"command,omitempty"`
	Target  string `json:"target,omitempty"`
	Success *bool  `json:"success,omitempty"`
}

// SearchData is the payload of search_performed.
type SearchData struct {
	Query       string `json:"query,omitempty"`
	Scope       string `json:"scope,omitempty"`
	ResultCount int64  `json:"resultCount,omitempty"`
}

// LLMData is the payload of llm_request and llm_response.
type LLMData struct {
	Model            string `json:"model,omitempty"`
	ModelID          string `json:"modelId,omitempty"`
	RequestID        string `json:"requestId,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	Response         string `json:"response,omitempty"`
	PromptTokens     int64  `json:"promptTokens,omitempty"`
	CompletionTokens int64  `json:"completionTokens,omitempty"`
	ResponseTokens   int64  `json:"responseTokens,omitempty"`
}

// ModelName returns Model, falling back to ModelID.
func (d LLMData) ModelName() string {
	if d.Model != "" {
		return d.Model
	}
	return d.ModelID
}

// Tokens is the sum of every token count the payload reports.
func (d LLMData) Tokens() int64 {
	return d.PromptTokens + d.CompletionTokens + d.ResponseTokens
}

// ErrorData is the payload of error_encountered.
type ErrorData struct {
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Stack     string `json:"stack,omitempty"`
	FilePath  string `json:"filePath,omitempty"`
}

// RollbackData is the payload of rollback_performed.
type RollbackData struct {
	Reason       string `json:"reason,omitempty"`
	TargetCommit string `json:"targetCommit,omitempty"`
	FilePath     string `json:"filePath,omitempty"`
}

// CommitData is the payload of commit_created.
type CommitData struct {
	Hash         string `json:"hash,omitempty"`
	Message      string `json:"message,omitempty"`
	Branch       string `json:"branch,omitempty"`
	FilesChanged int64  `json:"filesChanged,omitempty"`
}

// ToolData is the payload of tool_invocation.
type ToolData struct {
	ToolName   string         `json:"toolName,omitempty"`
	ToolID     string         `json:"toolId,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	IsComplete *bool          `json:"isComplete,omitempty"`
}

// UserInteractionData is the payload of user_interaction.
type UserInteractionData struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ContextSwitchData is the payload of context_switch.
type ContextSwitchData struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (SessionBoundaryData) payload() {}
func (FileData) payload()            {}
func (CommandData) payload()         {}
func (TestRunData) payload()         {}
func (BuildData) payload()           {}
func (SearchData) payload()          {}
func (LLMData) payload()             {}
func (ErrorData) payload()           {}
func (RollbackData) payload()        {}
func (CommitData) payload()          {}
func (ToolData) payload()            {}
func (UserInteractionData) payload() {}
func (ContextSwitchData) payload()   {}

// Payload decodes Data into the concrete type for e.Type. Fields of the
// wrong JSON type produce an error; the returned Payload is then the
// zero value for the type, so callers that only need best-effort
// access may ignore the error.
func (e *AgentEvent) Payload() (Payload, error) {
	switch e.Type {
	case EventSessionStart, EventSessionEnd:
		return decodePayload[SessionBoundaryData](e.Data)
	case EventFileRead, EventFileWrite, EventFileCreate, EventFileDelete:
		return decodePayload[FileData](e.Data)
	case EventCommandExecute:
		return decodePayload[CommandData](e.Data)
	case EventTestRun:
		return decodePayload[TestRunData](e.Data)
	case EventBuildTrigger:
		return decodePayload[BuildData](e.Data)
	case EventSearchPerformed:
		return decodePayload[SearchData](e.Data)
	case EventLLMRequest, EventLLMResponse:
		return decodePayload[LLMData](e.Data)
	case EventErrorEncountered:
		return decodePayload[ErrorData](e.Data)
	case EventRollbackPerformed:
		return decodePayload[RollbackData](e.Data)
	case EventCommitCreated:
		return decodePayload[CommitData](e.Data)
	case EventToolInvocation:
		return decodePayload[ToolData](e.Data)
	case EventUserInteraction:
		return decodePayload[UserInteractionData](e.Data)
	case EventContextSwitch:
		return decodePayload[ContextSwitchData](e.Data)
	}
	return nil, fmt.Errorf("agentobs: no payload type for event type %q", e.Type)
}

// decodePayload round-trips data through JSON into T. Data arriving as
// CBOR carries integer types that encoding/json handles the same way
// as JSON numbers.
func decodePayload[T Payload](data map[string]any) (Payload, error) {
	var typed T
	if len(data) == 0 {
		return typed, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return typed, fmt.Errorf("agentobs: encoding event data: %w", err)
	}
	if err := json.Unmarshal(encoded, &typed); err != nil {
		var zero T
		return zero, fmt.Errorf("agentobs: decoding %T: %w", typed, err)
	}
	return typed, nil
}
