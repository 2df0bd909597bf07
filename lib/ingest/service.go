// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest is the write path of the observability pipeline.
//
// Every ingestion call runs the same steps: validate, check the
// referenced projects, resolve the machine/workspace hierarchy,
// auto-provision unknown sessions, insert events and apply the session
// metric increments of the events actually written in one transaction,
// and finally publish the new events to realtime subscribers. A failed
// transaction fails the call so the collector retries; publishing never
// fails a write.
//
// Project existence checks are cached in a scopepool keyed by project
// id. With AutoProvisionProjects set, an unknown project gets a
// placeholder row; otherwise events naming it are rejected with a
// reference error.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/hierarchy"
	"github.com/codervisor/devlog-sub006/lib/metrics"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
	"github.com/codervisor/devlog-sub006/lib/scopepool"
	"github.com/codervisor/devlog-sub006/lib/sessions"
)

// MaxBatchSize is the largest batch IngestBatch accepts.
const MaxBatchSize = 1000

// SSE event names ingestion publishes under. A StatsUpdatedFrame
// follows every EventsFrame for the same project.
const (
	EventsFrame       = "events"
	StatsUpdatedFrame = "stats.updated"
)

// StatsDelta is the stats.updated payload: what one publication adds
// to a project's running totals.
type StatsDelta struct {
	ProjectID int64     `json:"projectId"`
	Events    int       `json:"events"`
	Tokens    int64     `json:"tokens"`
	Errors    int       `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes stored events. *broadcast.Broadcaster satisfies
// it.
type Notifier interface {
	BroadcastProject(projectID int64, eventType string, payload any)
}

// Config configures a Service.
type Config struct {
	Store    *eventstore.Store
	Sessions *sessions.Manager

	// Notifier is optional.
	Notifier Notifier

	// AutoProvisionProjects creates placeholder rows for unknown
	// project ids instead of rejecting their events.
	AutoProvisionProjects bool

	// ProjectIdleTimeout bounds how long a project check stays
	// cached after its last use. Defaults to scopepool's default.
	ProjectIdleTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Counters are cumulative ingestion totals since startup.
type Counters struct {
	EventsCreated     int64 `json:"eventsCreated"`
	DuplicatesSkipped int64 `json:"duplicatesSkipped"`
	EventsRejected    int64 `json:"eventsRejected"`
	Batches           int64 `json:"batches"`
	Failures          int64 `json:"failures"`
}

// Service ingests events. Safe for concurrent use; it holds no state
// across calls beyond the project cache and counters.
type Service struct {
	store    *eventstore.Store
	sessions *sessions.Manager
	resolver *hierarchy.Resolver
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	autoProvision bool
	projects      *scopepool.Pool[int64, projectScope]

	eventsCreated     atomic.Int64
	duplicatesSkipped atomic.Int64
	eventsRejected    atomic.Int64
	batches           atomic.Int64
	failures          atomic.Int64
}

// projectScope records that a project id was verified to exist.
type projectScope struct {
	id          int64
	provisioned bool
}

// New returns a Service. Call Run to evict idle project scopes and
// Close on shutdown.
func New(cfg Config) *Service {
	service := &Service{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		resolver:      hierarchy.NewResolver(cfg.Store, cfg.Logger),
		notifier:      cfg.Notifier,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		autoProvision: cfg.AutoProvisionProjects,
	}
	service.projects = scopepool.New(scopepool.Config[int64, projectScope]{
		Build:       service.buildProjectScope,
		IdleTimeout: cfg.ProjectIdleTimeout,
		Clock:       cfg.Clock,
		Logger:      cfg.Logger,
	})
	return service
}

// Run evicts idle project scopes until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.projects.Run(ctx)
}

// Close drops every cached project scope.
func (s *Service) Close() {
	s.projects.Close()
}

// Counters returns a snapshot of the ingestion totals.
func (s *Service) Counters() Counters {
	return Counters{
		EventsCreated:     s.eventsCreated.Load(),
		DuplicatesSkipped: s.duplicatesSkipped.Load(),
		EventsRejected:    s.eventsRejected.Load(),
		Batches:           s.batches.Load(),
		Failures:          s.failures.Load(),
	}
}

func (s *Service) buildProjectScope(ctx context.Context, projectID int64) (projectScope, error) {
	if s.autoProvision {
		created, err := s.store.EnsureProject(ctx, projectID)
		if err != nil {
			return projectScope{}, err
		}
		if created {
			s.logger.Info("project auto-provisioned", "project_id", projectID)
		}
		return projectScope{id: projectID, provisioned: created}, nil
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if observeerr.IsKind(err, observeerr.KindNotFound) {
			return projectScope{}, observeerr.Reference(fmt.Sprintf("project %d", projectID),
				"project %d does not exist", projectID)
		}
		return projectScope{}, err
	}
	return projectScope{id: projectID}, nil
}

// IngestOne stores a single event. The server assigns its id and
// timestamp, overriding any supplied by the caller.
func (s *Service) IngestOne(ctx context.Context, input agentobs.AgentEvent) (*agentobs.AgentEvent, error) {
	event := input
	event.ID = uuid.NewString()
	event.Timestamp = s.clock.Now().UTC()
	event.Sequence = 0
	event.MachineRef = 0
	event.WorkspaceRef = 0

	if invalid := event.Validate(false); len(invalid) > 0 {
		s.failures.Add(1)
		return nil, observeerr.Validation(invalid, "invalid event: missing or invalid %v", invalid)
	}

	lease, err := s.projects.Acquire(ctx, event.ProjectID)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	defer lease.Release()

	events := []agentobs.AgentEvent{event}
	inserted, err := s.persist(ctx, events)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	if !inserted[0] {
		// Server-generated ids only collide if the generator is broken.
		return nil, fmt.Errorf("ingest: event id %s already exists", events[0].ID)
	}

	s.eventsCreated.Add(1)
	s.metrics.EventIngested(events[0].Type)
	s.publish(events)
	return &events[0], nil
}

// IngestBatch stores up to MaxBatchSize events. Every event must carry
// a timestamp; events without an id get one from DeriveEventID, so a
// retried batch is absorbed as duplicates.
//
// Any field-level validation failure rejects the whole batch. Events
// naming a project that cannot be resolved are rejected individually
// and reported in the result; when every event is rejected the call
// fails with the first reference error.
func (s *Service) IngestBatch(ctx context.Context, inputs []agentobs.AgentEvent) (*agentobs.BatchResult, error) {
	switch {
	case len(inputs) == 0:
		s.failures.Add(1)
		return nil, observeerr.Validation([]string{"events"}, "batch is empty")
	case len(inputs) > MaxBatchSize:
		s.failures.Add(1)
		return nil, observeerr.Validation([]string{"events"},
			"batch of %d events exceeds the limit of %d", len(inputs), MaxBatchSize)
	}

	events := make([]agentobs.AgentEvent, len(inputs))
	for i := range inputs {
		event := inputs[i]
		event.Sequence = 0
		event.MachineRef = 0
		event.WorkspaceRef = 0
		if invalid := event.Validate(true); len(invalid) > 0 {
			s.failures.Add(1)
			fields := make([]string, len(invalid))
			for j, field := range invalid {
				fields[j] = fmt.Sprintf("events[%d].%s", i, field)
			}
			return nil, observeerr.Validation(fields, "invalid event at index %d: missing or invalid %v", i, invalid)
		}
		event.Timestamp = event.Timestamp.UTC()
		if event.ID == "" {
			id, err := DeriveEventID(&event)
			if err != nil {
				s.failures.Add(1)
				return nil, observeerr.Validation([]string{fmt.Sprintf("events[%d].data", i)},
					"event at index %d has unencodable data: %v", i, err)
			}
			event.ID = id
		}
		events[i] = event
	}

	result := &agentobs.BatchResult{Requested: len(events)}

	accepted, rejected, release, err := s.checkProjects(ctx, events)
	defer release()
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	result.Rejected = rejected
	if len(accepted) == 0 {
		s.failures.Add(1)
		s.eventsRejected.Add(int64(len(rejected)))
		return nil, rejectedError(rejected)
	}

	inserted, err := s.persist(ctx, accepted)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}

	var stored []agentobs.AgentEvent
	for i, written := range inserted {
		if written {
			stored = append(stored, accepted[i])
			s.metrics.EventIngested(accepted[i].Type)
		}
	}
	result.Created = len(stored)
	result.DuplicatesSkipped = len(accepted) - len(stored)

	s.batches.Add(1)
	s.eventsCreated.Add(int64(result.Created))
	s.duplicatesSkipped.Add(int64(result.DuplicatesSkipped))
	s.eventsRejected.Add(int64(len(result.Rejected)))
	s.metrics.BatchIngested(*result)

	s.logger.Debug("batch ingested",
		"requested", result.Requested,
		"created", result.Created,
		"duplicates_skipped", result.DuplicatesSkipped,
		"rejected", len(result.Rejected),
	)
	s.publish(stored)
	return result, nil
}

// checkProjects leases a scope for every distinct project in events.
// Events whose project fails with a reference error are returned as
// rejections; any other failure aborts. The returned release function
// must be called even when err is non-nil.
func (s *Service) checkProjects(ctx context.Context, events []agentobs.AgentEvent) (accepted []agentobs.AgentEvent, rejected []agentobs.RejectedEvent, release func(), err error) {
	var leases []*scopepool.Lease[int64, projectScope]
	release = func() {
		for _, lease := range leases {
			lease.Release()
		}
	}

	missing := make(map[int64]*observeerr.Error)
	checked := make(map[int64]bool)
	for i := range events {
		projectID := events[i].ProjectID
		if !checked[projectID] {
			checked[projectID] = true
			lease, acquireErr := s.projects.Acquire(ctx, projectID)
			if acquireErr != nil {
				classified, ok := observeerr.As(acquireErr)
				if !ok || classified.Kind != observeerr.KindReference {
					return nil, nil, release, acquireErr
				}
				missing[projectID] = classified
			} else {
				leases = append(leases, lease)
			}
		}

		if referenceErr, isMissing := missing[projectID]; isMissing {
			rejected = append(rejected, agentobs.RejectedEvent{
				Index:   i,
				ID:      events[i].ID,
				Kind:    string(referenceErr.Kind),
				Entity:  referenceErr.Entity,
				Message: referenceErr.Message,
			})
			continue
		}
		accepted = append(accepted, events[i])
	}
	return accepted, rejected, release, nil
}

func rejectedError(rejected []agentobs.RejectedEvent) error {
	first := rejected[0]
	return observeerr.Reference(first.Entity, "all %d events rejected: %s", len(rejected), first.Message)
}

// persist runs the shared write steps for validated events whose
// projects exist: hierarchy resolution, session provisioning, then the
// insert together with session metrics for the events actually written.
// Sequence and hierarchy references are filled into events in place.
func (s *Service) persist(ctx context.Context, events []agentobs.AgentEvent) ([]bool, error) {
	resolution, err := s.resolver.Resolve(ctx, events)
	if err != nil {
		return nil, err
	}
	resolution.Link(events)

	if _, err := s.sessions.EnsureSessions(ctx, events); err != nil {
		return nil, err
	}

	return s.sessions.StoreEvents(ctx, events)
}

// publish sends stored events to subscribers, one frame per project.
func (s *Service) publish(events []agentobs.AgentEvent) {
	if s.notifier == nil || len(events) == 0 {
		return
	}
	byProject := make(map[int64][]agentobs.AgentEvent)
	var order []int64
	for _, event := range events {
		if _, seen := byProject[event.ProjectID]; !seen {
			order = append(order, event.ProjectID)
		}
		byProject[event.ProjectID] = append(byProject[event.ProjectID], event)
	}
	now := s.clock.Now().UTC()
	for _, projectID := range order {
		projectEvents := byProject[projectID]
		s.notifier.BroadcastProject(projectID, EventsFrame, projectEvents)
		s.notifier.BroadcastProject(projectID, StatsUpdatedFrame, statsDelta(projectID, projectEvents, now))
	}
}

// statsDelta counts errors the way the time series does: an
// error_encountered event or an error or critical severity.
func statsDelta(projectID int64, events []agentobs.AgentEvent, now time.Time) StatsDelta {
	delta := StatsDelta{ProjectID: projectID, Events: len(events), Timestamp: now}
	for i := range events {
		delta.Tokens += events[i].Metrics.Tokens()
		if events[i].Type == agentobs.EventErrorEncountered ||
			events[i].Severity == agentobs.SeverityError || events[i].Severity == agentobs.SeverityCritical {
			delta.Errors++
		}
	}
	return delta
}

// GetEvents returns events matching filter, newest first.
func (s *Service) GetEvents(ctx context.Context, filter agentobs.EventFilter) ([]agentobs.AgentEvent, error) {
	filter.EventType = agentobs.NormalizeEventType(string(filter.EventType))
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	return s.store.QueryEvents(ctx, filter)
}

// GetEvent returns one event.
func (s *Service) GetEvent(ctx context.Context, id string) (*agentobs.AgentEvent, error) {
	return s.store.GetEvent(ctx, id)
}

// LatestSequence returns the newest event sequence, the starting
// cursor for a polling stream.
func (s *Service) LatestSequence(ctx context.Context) (int64, error) {
	return s.store.LatestSequence(ctx)
}

// ValidateFilter checks the enumerated and range fields of filter.
func ValidateFilter(filter agentobs.EventFilter) error {
	var invalid []string
	if filter.EventType != "" && !filter.EventType.Valid() {
		invalid = append(invalid, "eventType")
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		invalid = append(invalid, "severity")
	}
	if filter.Limit < 0 {
		invalid = append(invalid, "limit")
	}
	if filter.Offset < 0 {
		invalid = append(invalid, "offset")
	}
	if !agentobs.StorableTime(filter.From) {
		invalid = append(invalid, "from")
	}
	if !agentobs.StorableTime(filter.To) ||
		(!filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From)) {
		invalid = append(invalid, "to")
	}
	if !agentobs.StorableTime(filter.Since) {
		invalid = append(invalid, "since")
	}
	if len(invalid) > 0 {
		return observeerr.Validation(invalid, "invalid event filter: %v", invalid)
	}
	return nil
}
