// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregate answers read-side summary queries over the event
// log: grouped event and session statistics, a session's rendered
// timeline, and dense per-project time series.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// Time-series window bounds, in days.
const (
	DefaultSeriesDays = 30
	MaxSeriesDays     = 365
)

// Engine runs aggregation queries. Safe for concurrent use.
type Engine struct {
	store  *eventstore.Store
	clock  clock.Clock
	logger *slog.Logger
}

// Config configures an Engine.
type Config struct {
	Store *eventstore.Store

	// Clock anchors time-series windows. Required.
	Clock clock.Clock

	Logger *slog.Logger
}

// New returns an Engine.
func New(cfg Config) *Engine {
	return &Engine{store: cfg.Store, clock: cfg.Clock, logger: cfg.Logger}
}

// EventStats aggregates events matching filter. Limit and offset are
// ignored.
func (e *Engine) EventStats(ctx context.Context, filter agentobs.EventFilter) (*agentobs.EventStats, error) {
	filter.EventType = agentobs.NormalizeEventType(string(filter.EventType))
	if filter.EventType != "" && !filter.EventType.Valid() {
		return nil, observeerr.Validation([]string{"eventType"}, "unknown event type %q", filter.EventType)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, observeerr.Validation([]string{"severity"}, "unknown severity %q", filter.Severity)
	}
	return e.store.EventStats(ctx, filter)
}

// SessionStats aggregates sessions matching filter.
func (e *Engine) SessionStats(ctx context.Context, filter agentobs.SessionFilter) (*agentobs.SessionStats, error) {
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		return nil, observeerr.Validation([]string{"outcome"}, "unknown outcome %q", filter.Outcome)
	}
	return e.store.SessionStats(ctx, filter)
}

// Timeline returns the session's events in ascending (timestamp,
// sequence) order with a human-readable description each. An unknown
// session is not found; a known session without events has an empty
// timeline.
func (e *Engine) Timeline(ctx context.Context, sessionID string) ([]agentobs.TimelineEvent, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	events, err := e.store.SessionEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	timeline := make([]agentobs.TimelineEvent, len(events))
	for i := range events {
		timeline[i] = agentobs.TimelineEvent{
			ID:          events[i].ID,
			Sequence:    events[i].Sequence,
			Timestamp:   events[i].Timestamp,
			Type:        events[i].Type,
			Description: Describe(&events[i]),
			Severity:    events[i].Severity,
			Data:        events[i].Data,
		}
	}
	return timeline, nil
}

// SeriesOptions selects a time-series window. Zero values take the
// defaults: DefaultSeriesDays and day granularity.
type SeriesOptions struct {
	Days        int
	Granularity agentobs.Granularity
}

// TimeSeries buckets a project's activity over the trailing Days
// window ending now. Buckets are UTC and dense: every bucket in the
// window is present even when empty. Weeks start on Monday. A project
// id of 0 covers every project.
func (e *Engine) TimeSeries(ctx context.Context, projectID int64, options SeriesOptions) (*agentobs.TimeSeries, error) {
	days := options.Days
	if days == 0 {
		days = DefaultSeriesDays
	}
	granularity := options.Granularity
	if granularity == "" {
		granularity = agentobs.GranularityDay
	}

	var invalid []string
	if days < 1 || days > MaxSeriesDays {
		invalid = append(invalid, "days")
	}
	if !granularity.Valid() {
		invalid = append(invalid, "granularity")
	}
	if len(invalid) > 0 {
		return nil, observeerr.Validation(invalid,
			"invalid time series: days must be 1..%d and granularity day, week or month", MaxSeriesDays)
	}

	now := e.clock.Now().UTC()
	end := startOfDay(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	counts, err := e.store.DailyCounts(ctx, projectID, start, end)
	if err != nil {
		return nil, err
	}

	buckets := emptyBuckets(start, end, granularity)
	index := make(map[int64]int, len(buckets))
	for i := range buckets {
		index[buckets[i].Start.Unix()] = i
	}
	for _, day := range counts {
		position, ok := index[bucketStart(day.Day, granularity).Unix()]
		if !ok {
			continue
		}
		buckets[position].EventCount += day.Events
		buckets[position].TokenCount += day.Tokens
		buckets[position].ErrorCount += day.Errors
	}

	e.logger.Debug("time series computed",
		"project_id", projectID,
		"days", days,
		"granularity", granularity,
		"buckets", len(buckets),
	)
	return &agentobs.TimeSeries{
		ProjectID:   projectID,
		Days:        days,
		Granularity: granularity,
		Buckets:     buckets,
	}, nil
}

// emptyBuckets returns one zero bucket for every granularity period
// that overlaps [start, end). The first bucket may begin before start
// when start falls mid-week or mid-month.
func emptyBuckets(start, end time.Time, granularity agentobs.Granularity) []agentobs.TimeSeriesBucket {
	var buckets []agentobs.TimeSeriesBucket
	for current := bucketStart(start, granularity); current.Before(end); current = nextBucket(current, granularity) {
		buckets = append(buckets, agentobs.TimeSeriesBucket{Start: current})
	}
	return buckets
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// bucketStart returns the start of the bucket containing t.
func bucketStart(t time.Time, granularity agentobs.Granularity) time.Time {
	day := startOfDay(t)
	switch granularity {
	case agentobs.GranularityWeek:
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -sinceMonday)
	case agentobs.GranularityMonth:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

func nextBucket(t time.Time, granularity agentobs.Granularity) time.Time {
	switch granularity {
	case agentobs.GranularityWeek:
		return t.AddDate(0, 0, 7)
	case agentobs.GranularityMonth:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}
