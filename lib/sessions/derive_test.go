// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"testing"

	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

func pointer[T any](value T) *T { return &value }

func TestEventMetricsRules(t *testing.T) {
	tests := []struct {
		name  string
		event agentobs.AgentEvent
		want  agentobs.SessionMetrics
	}{
		{
			name:  "file read",
			event: agentobs.AgentEvent{Type: agentobs.EventFileRead, Data: map[string]any{"filePath": "a.go"}},
			want:  agentobs.SessionMetrics{EventsCount: 1, FilesRead: 1},
		},
		{
			name: "file write with payload lines",
			event: agentobs.AgentEvent{
				Type:    agentobs.EventFileWrite,
				Data:    map[string]any{"linesAdded": 10.0, "linesRemoved": 2.0},
				Metrics: &agentobs.EventMetrics{LinesChanged: pointer(int64(99))},
			},
			want: agentobs.SessionMetrics{EventsCount: 1, FilesModified: 1, LinesAdded: 10, LinesRemoved: 2},
		},
		{
			name: "file delete with negative lines changed",
			event: agentobs.AgentEvent{
				Type:    agentobs.EventFileDelete,
				Data:    map[string]any{},
				Metrics: &agentobs.EventMetrics{LinesChanged: pointer(int64(-40))},
			},
			want: agentobs.SessionMetrics{EventsCount: 1, FilesModified: 1, LinesRemoved: 40},
		},
		{
			name:  "file create with payload lines changed",
			event: agentobs.AgentEvent{Type: agentobs.EventFileCreate, Data: map[string]any{"linesChanged": 15.0}},
			want:  agentobs.SessionMetrics{EventsCount: 1, FilesModified: 1, LinesAdded: 15},
		},
		{
			name:  "command",
			event: agentobs.AgentEvent{Type: agentobs.EventCommandExecute, Data: map[string]any{"command": "go test"}},
			want:  agentobs.SessionMetrics{EventsCount: 1, CommandsExecuted: 1},
		},
		{
			name:  "error",
			event: agentobs.AgentEvent{Type: agentobs.EventErrorEncountered, Data: map[string]any{}},
			want:  agentobs.SessionMetrics{EventsCount: 1, ErrorsEncountered: 1},
		},
		{
			name:  "test run with counts",
			event: agentobs.AgentEvent{Type: agentobs.EventTestRun, Data: map[string]any{"testsRun": 12.0, "testsPassed": 11.0}},
			want:  agentobs.SessionMetrics{EventsCount: 1, TestsRun: 12, TestsPassed: 11},
		},
		{
			name:  "test run with pass flag",
			event: agentobs.AgentEvent{Type: agentobs.EventTestRun, Data: map[string]any{"passed": true}},
			want:  agentobs.SessionMetrics{EventsCount: 1, TestsRun: 1, TestsPassed: 1},
		},
		{
			name:  "failed test run",
			event: agentobs.AgentEvent{Type: agentobs.EventTestRun, Data: map[string]any{"passed": false}},
			want:  agentobs.SessionMetrics{EventsCount: 1, TestsRun: 1},
		},
		{
			name:  "successful build",
			event: agentobs.AgentEvent{Type: agentobs.EventBuildTrigger, Data: map[string]any{"success": true}},
			want:  agentobs.SessionMetrics{EventsCount: 1, BuildAttempts: 1, BuildSuccesses: 1},
		},
		{
			name:  "build without result",
			event: agentobs.AgentEvent{Type: agentobs.EventBuildTrigger, Data: map[string]any{}},
			want:  agentobs.SessionMetrics{EventsCount: 1, BuildAttempts: 1},
		},
		{
			name: "token count from metrics",
			event: agentobs.AgentEvent{
				Type:    agentobs.EventLLMResponse,
				Data:    map[string]any{"promptTokens": 500.0},
				Metrics: &agentobs.EventMetrics{TokenCount: pointer(int64(42))},
			},
			want: agentobs.SessionMetrics{EventsCount: 1, TokensUsed: 42},
		},
		{
			name:  "llm response tokens from payload",
			event: agentobs.AgentEvent{Type: agentobs.EventLLMResponse, Data: map[string]any{"promptTokens": 30.0, "completionTokens": 12.0}},
			want:  agentobs.SessionMetrics{EventsCount: 1, TokensUsed: 42},
		},
		{
			name:  "llm request payload tokens ignored",
			event: agentobs.AgentEvent{Type: agentobs.EventLLMRequest, Data: map[string]any{"promptTokens": 30.0}},
			want:  agentobs.SessionMetrics{EventsCount: 1},
		},
		{
			name:  "malformed payload still counts the event",
			event: agentobs.AgentEvent{Type: agentobs.EventTestRun, Data: map[string]any{"testsRun": "many"}},
			want:  agentobs.SessionMetrics{EventsCount: 1, TestsRun: 1},
		},
		{
			name:  "context switch",
			event: agentobs.AgentEvent{Type: agentobs.EventContextSwitch, Data: map[string]any{}},
			want:  agentobs.SessionMetrics{EventsCount: 1},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := EventMetrics(&test.event); got != test.want {
				t.Errorf("EventMetrics = %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestDeriveMetricsGroupsBySession(t *testing.T) {
	events := []agentobs.AgentEvent{
		{SessionID: "s1", Type: agentobs.EventFileRead, Data: map[string]any{}},
		{SessionID: "s1", Type: agentobs.EventCommandExecute, Data: map[string]any{}},
		{SessionID: "s2", Type: agentobs.EventErrorEncountered, Data: map[string]any{}},
	}
	deltas := DeriveMetrics(events)
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v, want two sessions", deltas)
	}
	if want := (agentobs.SessionMetrics{EventsCount: 2, FilesRead: 1, CommandsExecuted: 1}); deltas["s1"] != want {
		t.Errorf("s1 = %+v, want %+v", deltas["s1"], want)
	}
	if deltas["s2"].ErrorsEncountered != 1 {
		t.Errorf("s2 = %+v", deltas["s2"])
	}
}
