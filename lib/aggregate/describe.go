// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"fmt"

	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// Describe renders one event as a short phrase for timelines. Each
// event type has a fixed template filled from its payload; payload
// fields that are missing fall back to a generic phrase, and types
// with no template render as the raw type string.
func Describe(event *agentobs.AgentEvent) string {
	payload, _ := event.Payload()
	switch typed := payload.(type) {
	case agentobs.SessionBoundaryData:
		if event.Type == agentobs.EventSessionStart {
			return withDetail("Session started", typed.Objective)
		}
		return withDetail("Session ended", typed.Outcome)

	case agentobs.FileData:
		path := firstNonEmpty(typed.FilePath, event.Context.FilePath, "a file")
		switch event.Type {
		case agentobs.EventFileRead:
			return "Read " + path
		case agentobs.EventFileWrite:
			return "Modified " + path
		case agentobs.EventFileCreate:
			return "Created " + path
		case agentobs.EventFileDelete:
			return "Deleted " + path
		}

	case agentobs.CommandData:
		description := withDetail("Ran command", typed.Command)
		if typed.ExitCode != nil && *typed.ExitCode != 0 {
			description += fmt.Sprintf(" (exit %d)", *typed.ExitCode)
		}
		return description

	case agentobs.TestRunData:
		switch {
		case typed.TestsRun > 0:
			return fmt.Sprintf("Ran %d tests, %d passed", typed.TestsRun, typed.TestsPassed)
		case typed.Passed != nil && *typed.Passed:
			return "Tests passed"
		case typed.Passed != nil:
			return "Tests failed"
		}
		return "Ran tests"

	case agentobs.BuildData:
		switch {
		case typed.Success == nil:
			return withDetail("Triggered build", typed.Target)
		case *typed.Success:
			return withDetail("Build succeeded", typed.Target)
		}
		return withDetail("Build failed", typed.Target)

	case agentobs.SearchData:
		return withDetail("Searched", quoted(typed.Query))

	case agentobs.LLMData:
		model := typed.ModelName()
		if event.Type == agentobs.EventLLMRequest {
			return withDetail("Sent LLM request", model)
		}
		description := withDetail("Received LLM response", model)
		if tokens := event.Metrics.Tokens(); tokens > 0 {
			description += fmt.Sprintf(" (%d tokens)", tokens)
		} else if tokens := typed.Tokens(); tokens > 0 {
			description += fmt.Sprintf(" (%d tokens)", tokens)
		}
		return description

	case agentobs.ErrorData:
		return withDetail("Error", typed.Message)

	case agentobs.RollbackData:
		return withDetail("Rolled back", firstNonEmpty(typed.TargetCommit, typed.FilePath))

	case agentobs.CommitData:
		if typed.Message != "" {
			return "Committed " + quoted(typed.Message)
		}
		return withDetail("Created commit", shortHash(typed.Hash))

	case agentobs.ToolData:
		return withDetail("Invoked tool", typed.ToolName)

	case agentobs.UserInteractionData:
		return withDetail("User interaction", firstNonEmpty(typed.Message, typed.Kind))

	case agentobs.ContextSwitchData:
		if typed.From != "" && typed.To != "" {
			return fmt.Sprintf("Switched context from %s to %s", typed.From, typed.To)
		}
		return withDetail("Switched context", typed.To)
	}
	return string(event.Type)
}

// withDetail appends ": detail" when detail is non-empty.
func withDetail(phrase, detail string) string {
	if detail == "" {
		return phrase
	}
	return phrase + ": " + detail
}

func quoted(text string) string {
	if text == "" {
		return ""
	}
	return fmt.Sprintf("%q", text)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
