// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

var sessionTestEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type notification struct {
	projectID int64
	eventType string
	session   *agentobs.AgentSession
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []notification
}

func (n *recordingNotifier) BroadcastProject(projectID int64, eventType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	session, _ := payload.(*agentobs.AgentSession)
	n.notifications = append(n.notifications, notification{projectID, eventType, session})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.notifications...)
}

func newTestManager(t *testing.T) (*Manager, *eventstore.Store, *clock.FakeClock, *recordingNotifier) {
	t.Helper()
	fakeClock := clock.Fake(sessionTestEpoch)
	store, err := eventstore.Open(eventstore.Config{
		Path:   filepath.Join(t.TempDir(), "sessions_test.db"),
		Clock:  fakeClock,
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatalf("eventstore.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	notifier := &recordingNotifier{}
	manager := NewManager(Config{
		Store:    store,
		Notifier: notifier,
		Clock:    fakeClock,
		Logger:   slog.Default(),
	})
	return manager, store, fakeClock, notifier
}

func startInput() agentobs.StartSessionInput {
	return agentobs.StartSessionInput{
		AgentID:      "github-copilot",
		AgentVersion: "1.0.0",
		ProjectID:    1,
		Context:      agentobs.SessionContext{Objective: "fix bug", TriggeredBy: agentobs.TriggerManual},
	}
}

func TestStartGeneratesIDAndBroadcasts(t *testing.T) {
	manager, _, _, notifier := newTestManager(t)

	session, err := manager.Start(context.Background(), startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.ID == "" {
		t.Error("Start did not generate an id")
	}
	if !session.StartTime.Equal(sessionTestEpoch) || !session.Active() {
		t.Errorf("session = %+v", session)
	}

	notifications := notifier.all()
	if len(notifications) != 1 || notifications[0].eventType != EventSessionCreated || notifications[0].projectID != 1 {
		t.Fatalf("notifications = %+v", notifications)
	}
	if notifications[0].session.ID != session.ID {
		t.Errorf("broadcast session id = %q, want %q", notifications[0].session.ID, session.ID)
	}
}

func TestStartValidation(t *testing.T) {
	manager, _, _, _ := newTestManager(t)

	_, err := manager.Start(context.Background(), agentobs.StartSessionInput{
		Context: agentobs.SessionContext{TriggeredBy: "cron"},
	})
	classified, ok := observeerr.As(err)
	if !ok || classified.Kind != observeerr.KindValidation {
		t.Fatalf("error = %v, want validation", err)
	}
	if len(classified.Fields) != 4 {
		t.Errorf("Fields = %v, want agentId, agentVersion, projectId, context.triggeredBy", classified.Fields)
	}
}

func TestStartExistingIDConflicts(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()

	input := startInput()
	input.ID = "s1"
	if _, err := manager.Start(ctx, input); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := manager.Start(ctx, input); !observeerr.IsKind(err, observeerr.KindConflict) {
		t.Errorf("restart active: error = %v, want conflict", err)
	}
	if _, err := manager.End(ctx, "s1", agentobs.EndSessionInput{}); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := manager.Start(ctx, input); !observeerr.IsKind(err, observeerr.KindConflict) {
		t.Errorf("restart ended: error = %v, want conflict", err)
	}
}

func TestEndComputesDurationAndBroadcasts(t *testing.T) {
	manager, _, fakeClock, notifier := newTestManager(t)
	ctx := context.Background()

	session, err := manager.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	fakeClock.Advance(5*time.Minute + 999*time.Millisecond)

	score := 92.5
	ended, err := manager.End(ctx, session.ID, agentobs.EndSessionInput{
		Outcome:      agentobs.OutcomeSuccess,
		QualityScore: &score,
	})
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Duration == nil || *ended.Duration != 300 {
		t.Errorf("Duration = %v, want 300", ended.Duration)
	}
	if ended.EndTime == nil || !ended.EndTime.Equal(fakeClock.Now()) {
		t.Errorf("EndTime = %v, want %v", ended.EndTime, fakeClock.Now())
	}

	notifications := notifier.all()
	last := notifications[len(notifications)-1]
	if last.eventType != EventSessionCompleted || last.session.Outcome != agentobs.OutcomeSuccess {
		t.Errorf("last notification = %+v", last)
	}
}

func TestEndValidationAndErrors(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()

	session, err := manager.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tooHigh := 100.5
	tests := []struct {
		name  string
		id    string
		input agentobs.EndSessionInput
		kind  observeerr.Kind
	}{
		{"bad outcome", session.ID, agentobs.EndSessionInput{Outcome: "exploded"}, observeerr.KindValidation},
		{"score out of range", session.ID, agentobs.EndSessionInput{QualityScore: &tooHigh}, observeerr.KindValidation},
		{"unknown session", "missing", agentobs.EndSessionInput{}, observeerr.KindNotFound},
	}
	for _, test := range tests {
		if _, err := manager.End(ctx, test.id, test.input); !observeerr.IsKind(err, test.kind) {
			t.Errorf("%s: error = %v, want %s", test.name, err, test.kind)
		}
	}

	if _, err := manager.End(ctx, session.ID, agentobs.EndSessionInput{}); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := manager.End(ctx, session.ID, agentobs.EndSessionInput{}); !observeerr.IsKind(err, observeerr.KindConflict) {
		t.Errorf("double end: error = %v, want conflict", err)
	}
}

func sessionEvent(sessionID string, eventType agentobs.EventType, at time.Time, data map[string]any) agentobs.AgentEvent {
	if data == nil {
		data = map[string]any{}
	}
	return agentobs.AgentEvent{
		ID:           sessionID + "-" + string(eventType) + "-" + at.Format(time.RFC3339Nano),
		Timestamp:    at,
		Type:         eventType,
		AgentID:      "github-copilot",
		AgentVersion: "1.0.0",
		SessionID:    sessionID,
		ProjectID:    1,
		Context:      agentobs.EventContext{WorkingDirectory: "/app", Branch: "main", Commit: "abc"},
		Data:         data,
	}
}

func TestEnsureSessionsCreatesOnlyMissing(t *testing.T) {
	manager, store, _, notifier := newTestManager(t)
	ctx := context.Background()

	input := startInput()
	input.ID = "existing"
	if _, err := manager.Start(ctx, input); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := []agentobs.AgentEvent{
		sessionEvent("new", agentobs.EventFileRead, sessionTestEpoch.Add(time.Minute), nil),
		sessionEvent("new", agentobs.EventFileRead, sessionTestEpoch, nil),
		sessionEvent("existing", agentobs.EventFileRead, sessionTestEpoch, nil),
	}
	created, err := manager.EnsureSessions(ctx, events)
	if err != nil {
		t.Fatalf("EnsureSessions: %v", err)
	}
	if len(created) != 1 || created[0].ID != "new" {
		t.Fatalf("created = %+v, want only new", created)
	}

	session, err := store.GetSession(ctx, "new")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !session.AutoCreated() || !session.StartTime.Equal(sessionTestEpoch) {
		t.Errorf("auto session = %+v", session)
	}
	if session.Context.InitialCommit != "abc" || session.Context.Branch != "main" {
		t.Errorf("auto session context = %+v", session.Context)
	}

	createdNotifications := 0
	for _, n := range notifier.all() {
		if n.eventType == EventSessionCreated {
			createdNotifications++
		}
	}
	if createdNotifications != 2 {
		t.Errorf("session.created notifications = %d, want 2", createdNotifications)
	}

	again, err := manager.EnsureSessions(ctx, events)
	if err != nil {
		t.Fatalf("EnsureSessions again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second EnsureSessions created %d", len(again))
	}
}

func TestRecordEventsLateEventsIgnored(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()

	input := startInput()
	input.ID = "s1"
	if _, err := manager.Start(ctx, input); err != nil {
		t.Fatalf("Start: %v", err)
	}
	write := sessionEvent("s1", agentobs.EventFileWrite, sessionTestEpoch, map[string]any{"linesAdded": 12, "linesRemoved": 3})
	if err := manager.RecordEvents(ctx, []agentobs.AgentEvent{write}); err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}
	if _, err := manager.End(ctx, "s1", agentobs.EndSessionInput{Outcome: agentobs.OutcomePartial}); err != nil {
		t.Fatalf("End: %v", err)
	}
	late := sessionEvent("s1", agentobs.EventCommandExecute, sessionTestEpoch.Add(time.Hour), nil)
	if err := manager.RecordEvents(ctx, []agentobs.AgentEvent{late}); err != nil {
		t.Fatalf("RecordEvents late: %v", err)
	}

	session, err := manager.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := agentobs.SessionMetrics{EventsCount: 1, FilesModified: 1, LinesAdded: 12, LinesRemoved: 3}
	if session.Metrics != want {
		t.Errorf("Metrics = %+v, want %+v", session.Metrics, want)
	}
}

func TestListActive(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		input := startInput()
		input.ID = id
		if id == "c" {
			input.ProjectID = 2
		}
		if _, err := manager.Start(ctx, input); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}
	if _, err := manager.End(ctx, "a", agentobs.EndSessionInput{}); err != nil {
		t.Fatalf("End: %v", err)
	}

	active, err := manager.ListActive(ctx, 0)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active sessions = %d, want 2", len(active))
	}
	active, err = manager.ListActive(ctx, 2)
	if err != nil {
		t.Fatalf("ListActive(2): %v", err)
	}
	if len(active) != 1 || active[0].ID != "c" {
		t.Errorf("project 2 active = %+v", active)
	}

	if _, err := manager.List(ctx, agentobs.SessionFilter{Outcome: "bogus"}); !observeerr.IsKind(err, observeerr.KindValidation) {
		t.Errorf("List bad outcome: error = %v, want validation", err)
	}
}
