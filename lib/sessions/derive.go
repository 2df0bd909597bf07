// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// DeriveMetrics sums the session metric contributions of events, keyed
// by session id.
func DeriveMetrics(events []agentobs.AgentEvent) map[string]agentobs.SessionMetrics {
	deltas := make(map[string]agentobs.SessionMetrics)
	for i := range events {
		delta := deltas[events[i].SessionID]
		delta.Add(EventMetrics(&events[i]))
		deltas[events[i].SessionID] = delta
	}
	return deltas
}

// EventMetrics is the contribution of one event to its session's
// counters. Payload fields of the wrong type count as absent.
func EventMetrics(event *agentobs.AgentEvent) agentobs.SessionMetrics {
	delta := agentobs.SessionMetrics{
		EventsCount: 1,
		TokensUsed:  event.Metrics.Tokens(),
	}

	payload, _ := event.Payload()
	switch typed := payload.(type) {
	case agentobs.FileData:
		switch {
		case event.Type == agentobs.EventFileRead:
			delta.FilesRead = 1
		case event.Type.IsFileMutation():
			delta.FilesModified = 1
			delta.LinesAdded, delta.LinesRemoved = lineCounts(event.Metrics, typed)
		}

	case agentobs.CommandData:
		delta.CommandsExecuted = 1

	case agentobs.ErrorData:
		delta.ErrorsEncountered = 1

	case agentobs.TestRunData:
		delta.TestsRun = max(1, typed.TestsRun)
		switch {
		case typed.TestsPassed > 0:
			delta.TestsPassed = typed.TestsPassed
		case typed.Passed != nil && *typed.Passed:
			delta.TestsPassed = 1
		}

	case agentobs.BuildData:
		delta.BuildAttempts = 1
		if typed.Success != nil && *typed.Success {
			delta.BuildSuccesses = 1
		}

	case agentobs.LLMData:
		if event.Type == agentobs.EventLLMResponse && !reportsTokens(event.Metrics) {
			delta.TokensUsed = typed.Tokens()
		}
	}
	return delta
}

// lineCounts returns lines added and removed by a file mutation.
// Explicit payload counts win; otherwise a signed linesChanged (from
// metrics, then payload) is split by sign.
func lineCounts(eventMetrics *agentobs.EventMetrics, file agentobs.FileData) (added, removed int64) {
	if file.LinesAdded != nil || file.LinesRemoved != nil {
		if file.LinesAdded != nil {
			added = max(0, *file.LinesAdded)
		}
		if file.LinesRemoved != nil {
			removed = max(0, *file.LinesRemoved)
		}
		return added, removed
	}

	var changed *int64
	if eventMetrics != nil && eventMetrics.LinesChanged != nil {
		changed = eventMetrics.LinesChanged
	} else if file.LinesChanged != nil {
		changed = file.LinesChanged
	}
	if changed == nil {
		return 0, 0
	}
	if *changed >= 0 {
		return *changed, 0
	}
	return 0, -*changed
}

func reportsTokens(eventMetrics *agentobs.EventMetrics) bool {
	return eventMetrics != nil &&
		(eventMetrics.TokenCount != nil || eventMetrics.PromptTokens != nil || eventMetrics.ResponseTokens != nil)
}
