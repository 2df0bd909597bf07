// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessions manages the agent session lifecycle: explicit
// start and end, auto-provisioning of sessions first seen through
// their events, and the metric counters derived from those events.
//
// A session is active until End is called. Metric deltas are applied
// with relative SQL increments that only match active sessions, so
// events arriving after a session ended are stored but never change
// its counters.
package sessions

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/metrics"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// SSE event names published by the Manager.
const (
	EventSessionCreated   = "session.created"
	EventSessionCompleted = "session.completed"
)

// Notifier publishes lifecycle changes. *broadcast.Broadcaster
// satisfies it.
type Notifier interface {
	BroadcastProject(projectID int64, eventType string, payload any)
}

// Config configures a Manager.
type Config struct {
	Store *eventstore.Store

	// Notifier is optional.
	Notifier Notifier

	Clock  clock.Clock
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Manager owns session state transitions. Safe for concurrent use;
// all state lives in the store.
type Manager struct {
	store    *eventstore.Store
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager returns a Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Start creates an active session. A missing id is generated and a
// zero start time defaults to now. Starting an id that already exists
// is a conflict whether that session is active or ended.
func (m *Manager) Start(ctx context.Context, input agentobs.StartSessionInput) (*agentobs.AgentSession, error) {
	var invalid []string
	if input.AgentID == "" {
		invalid = append(invalid, "agentId")
	}
	if input.AgentVersion == "" {
		invalid = append(invalid, "agentVersion")
	}
	if input.ProjectID <= 0 {
		invalid = append(invalid, "projectId")
	}
	if input.Context.TriggeredBy != "" && !validTrigger(input.Context.TriggeredBy) {
		invalid = append(invalid, "context.triggeredBy")
	}
	if !agentobs.StorableTime(input.StartTime) {
		invalid = append(invalid, "startTime")
	}
	if len(invalid) > 0 {
		return nil, observeerr.Validation(invalid, "invalid session start: %v", invalid)
	}

	session := &agentobs.AgentSession{
		ID:           input.ID,
		AgentID:      input.AgentID,
		AgentVersion: input.AgentVersion,
		ProjectID:    input.ProjectID,
		StartTime:    input.StartTime.UTC(),
		Context:      input.Context,
		Metadata:     input.Metadata,
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if input.StartTime.IsZero() {
		session.StartTime = m.clock.Now().UTC()
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.metrics.SessionStarted(false)
	m.logger.Info("session started",
		"session_id", session.ID,
		"agent_id", session.AgentID,
		"project_id", session.ProjectID,
	)
	m.notify(session.ProjectID, EventSessionCreated, session)
	return session, nil
}

func validTrigger(trigger agentobs.TriggerSource) bool {
	switch trigger {
	case agentobs.TriggerManual, agentobs.TriggerAutomation, agentobs.TriggerSchedule:
		return true
	}
	return false
}

// End closes an active session at the current time. Duration is whole
// seconds since start. Outcome and QualityScore are optional; when set
// they must be a known outcome and within [0, 100].
func (m *Manager) End(ctx context.Context, id string, input agentobs.EndSessionInput) (*agentobs.AgentSession, error) {
	var invalid []string
	if input.Outcome != "" && !input.Outcome.Valid() {
		invalid = append(invalid, "outcome")
	}
	if input.QualityScore != nil && (*input.QualityScore < 0 || *input.QualityScore > 100) {
		invalid = append(invalid, "qualityScore")
	}
	if len(invalid) > 0 {
		return nil, observeerr.Validation(invalid, "invalid session end: %v", invalid)
	}

	session, err := m.store.EndSession(ctx, id, eventstore.EndSessionParams{
		EndTime:      m.clock.Now().UTC(),
		Outcome:      input.Outcome,
		QualityScore: input.QualityScore,
		FinalCommit:  input.FinalCommit,
	})
	if err != nil {
		return nil, err
	}

	m.metrics.SessionEnded(session.Outcome)
	m.logger.Info("session ended",
		"session_id", session.ID,
		"outcome", session.Outcome,
		"duration_seconds", session.Duration,
	)
	m.notify(session.ProjectID, EventSessionCompleted, session)
	return session, nil
}

// Get returns one session.
func (m *Manager) Get(ctx context.Context, id string) (*agentobs.AgentSession, error) {
	return m.store.GetSession(ctx, id)
}

// List returns sessions matching filter, most recently started first.
func (m *Manager) List(ctx context.Context, filter agentobs.SessionFilter) ([]agentobs.AgentSession, error) {
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		return nil, observeerr.Validation([]string{"outcome"}, "unknown outcome %q", filter.Outcome)
	}
	if !agentobs.StorableTime(filter.From) || !agentobs.StorableTime(filter.To) {
		return nil, observeerr.Validation([]string{"from", "to"}, "session filter time out of range")
	}
	return m.store.ListSessions(ctx, filter)
}

// ListActive returns active sessions, optionally for one project.
func (m *Manager) ListActive(ctx context.Context, projectID int64) ([]agentobs.AgentSession, error) {
	active := true
	return m.store.ListSessions(ctx, agentobs.SessionFilter{
		ProjectID: projectID,
		Active:    &active,
		Limit:     agentobs.MaxLimit,
	})
}

// EnsureSessions creates a session for every session id referenced by
// events that is not yet stored, and returns the ones it created.
// Existing sessions are never modified. Each new session takes its
// agent, project and starting context from the earliest of its events
// and is marked autoCreated.
func (m *Manager) EnsureSessions(ctx context.Context, events []agentobs.AgentEvent) ([]agentobs.AgentSession, error) {
	earliest := make(map[string]*agentobs.AgentEvent)
	var order []string
	for i := range events {
		event := &events[i]
		current, seen := earliest[event.SessionID]
		if !seen {
			order = append(order, event.SessionID)
		}
		if !seen || event.Timestamp.Before(current.Timestamp) {
			earliest[event.SessionID] = event
		}
	}

	existing, err := m.store.SessionsExist(ctx, order)
	if err != nil {
		return nil, err
	}

	var candidates []agentobs.AgentSession
	for _, sessionID := range order {
		if existing[sessionID] {
			continue
		}
		event := earliest[sessionID]
		candidates = append(candidates, agentobs.AgentSession{
			ID:           sessionID,
			AgentID:      event.AgentID,
			AgentVersion: event.AgentVersion,
			ProjectID:    event.ProjectID,
			StartTime:    event.Timestamp,
			Context: agentobs.SessionContext{
				DevlogID:         event.Context.DevlogID,
				Branch:           event.Context.Branch,
				InitialCommit:    event.Context.Commit,
				TriggeredBy:      agentobs.TriggerAutomation,
				WorkingDirectory: event.Context.WorkingDirectory,
			},
			Metadata: map[string]any{"autoCreated": true},
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	created, err := m.store.CreateSessionsIfAbsent(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for i := range created {
		m.metrics.SessionStarted(true)
		m.logger.Info("session auto-created",
			"session_id", created[i].ID,
			"agent_id", created[i].AgentID,
			"project_id", created[i].ProjectID,
		)
		m.notify(created[i].ProjectID, EventSessionCreated, &created[i])
	}
	return created, nil
}

// RecordEvents applies the metric deltas of newly stored events to
// their sessions. Sessions that have ended are left unchanged.
func (m *Manager) RecordEvents(ctx context.Context, events []agentobs.AgentEvent) error {
	deltas := DeriveMetrics(events)
	if len(deltas) == 0 {
		return nil
	}
	applied, err := m.store.ApplySessionMetrics(ctx, deltas)
	if err != nil {
		return err
	}
	if skipped := len(deltas) - len(applied); skipped > 0 {
		m.logger.Debug("metrics not applied to ended or unknown sessions", "sessions", skipped)
	}
	return nil
}

// StoreEvents inserts events and applies their session metric
// increments in one transaction, reporting per index whether each event
// was written. A failure leaves neither the events nor the increments
// behind, so the caller can retry.
func (m *Manager) StoreEvents(ctx context.Context, events []agentobs.AgentEvent) ([]bool, error) {
	inserted, applied, err := m.store.InsertEventsWithMetrics(ctx, events, DeriveMetrics)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("events stored", "events", len(events), "sessions_updated", len(applied))
	return inserted, nil
}

func (m *Manager) notify(projectID int64, eventType string, payload any) {
	if m.notifier != nil {
		m.notifier.BroadcastProject(projectID, eventType, payload)
	}
}
