// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// Wednesday afternoon.
var aggregateTestNow = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *eventstore.Store) {
	t.Helper()
	fakeClock := clock.Fake(aggregateTestNow)
	store, err := eventstore.Open(eventstore.Config{
		Path:   filepath.Join(t.TempDir(), "aggregate_test.db"),
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
	return New(Config{Store: store, Clock: fakeClock, Logger: slog.Default()}), store
}

type seed struct {
	id       string
	at       time.Time
	typ      agentobs.EventType
	severity agentobs.Severity
	tokens   int64
	data     map[string]any
}

func insert(t *testing.T, store *eventstore.Store, sessionID string, seeds ...seed) {
	t.Helper()
	events := make([]agentobs.AgentEvent, len(seeds))
	for i, s := range seeds {
		data := s.data
		if data == nil {
			data = map[string]any{}
		}
		events[i] = agentobs.AgentEvent{
			ID:           s.id,
			Timestamp:    s.at,
			Type:         s.typ,
			AgentID:      "github-copilot",
			AgentVersion: "1.0.0",
			SessionID:    sessionID,
			ProjectID:    1,
			Context:      agentobs.EventContext{WorkingDirectory: "/app"},
			Data:         data,
			Severity:     s.severity,
		}
		if s.tokens > 0 {
			tokens := s.tokens
			events[i].Metrics = &agentobs.EventMetrics{TokenCount: &tokens}
		}
	}
	if _, err := store.InsertEvents(context.Background(), events); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
}

func day(month time.Month, dayOfMonth, hour int) time.Time {
	return time.Date(2026, month, dayOfMonth, hour, 0, 0, 0, time.UTC)
}

func TestTimeSeriesGranularities(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	insert(t, store, "s1",
		seed{id: "outside", at: day(time.February, 25, 12), typ: agentobs.EventFileRead},
		seed{id: "mon", at: day(time.March, 2, 9), typ: agentobs.EventFileRead, tokens: 5},
		seed{id: "wed-1", at: day(time.March, 4, 8), typ: agentobs.EventLLMResponse, tokens: 10},
		seed{id: "wed-2", at: day(time.March, 4, 14), typ: agentobs.EventCommandExecute, severity: agentobs.SeverityError},
		seed{id: "thu", at: day(time.February, 26, 0), typ: agentobs.EventErrorEncountered},
	)

	series, err := engine.TimeSeries(ctx, 1, SeriesOptions{Days: 7})
	if err != nil {
		t.Fatalf("TimeSeries day: %v", err)
	}
	if series.Granularity != agentobs.GranularityDay || len(series.Buckets) != 7 {
		t.Fatalf("day series = %+v", series)
	}
	if !series.Buckets[0].Start.Equal(day(time.February, 26, 0)) || !series.Buckets[6].Start.Equal(day(time.March, 4, 0)) {
		t.Errorf("day window = %v .. %v", series.Buckets[0].Start, series.Buckets[6].Start)
	}
	wantDaily := map[int]agentobs.TimeSeriesBucket{
		0: {EventCount: 1, ErrorCount: 1},
		4: {EventCount: 1, TokenCount: 5},
		6: {EventCount: 2, TokenCount: 10, ErrorCount: 1},
	}
	for i, bucket := range series.Buckets {
		want := wantDaily[i]
		if bucket.EventCount != want.EventCount || bucket.TokenCount != want.TokenCount || bucket.ErrorCount != want.ErrorCount {
			t.Errorf("day bucket %d (%s) = %+v, want %+v", i, bucket.Start.Format(time.DateOnly), bucket, want)
		}
	}

	weekly, err := engine.TimeSeries(ctx, 1, SeriesOptions{Days: 7, Granularity: agentobs.GranularityWeek})
	if err != nil {
		t.Fatalf("TimeSeries week: %v", err)
	}
	if len(weekly.Buckets) != 2 {
		t.Fatalf("weekly buckets = %+v", weekly.Buckets)
	}
	if !weekly.Buckets[0].Start.Equal(day(time.February, 23, 0)) || weekly.Buckets[0].Start.Weekday() != time.Monday {
		t.Errorf("first week starts %v, want Monday 2026-02-23", weekly.Buckets[0].Start)
	}
	if weekly.Buckets[0].EventCount != 1 || weekly.Buckets[1].EventCount != 3 {
		t.Errorf("weekly counts = %d, %d, want 1, 3", weekly.Buckets[0].EventCount, weekly.Buckets[1].EventCount)
	}

	monthly, err := engine.TimeSeries(ctx, 0, SeriesOptions{Days: 7, Granularity: agentobs.GranularityMonth})
	if err != nil {
		t.Fatalf("TimeSeries month: %v", err)
	}
	if len(monthly.Buckets) != 2 || monthly.Buckets[0].EventCount != 1 || monthly.Buckets[1].EventCount != 3 {
		t.Errorf("monthly buckets = %+v", monthly.Buckets)
	}
}

func TestTimeSeriesDefaultsAndValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	series, err := engine.TimeSeries(ctx, 1, SeriesOptions{})
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}
	if series.Days != DefaultSeriesDays || len(series.Buckets) != DefaultSeriesDays {
		t.Errorf("default series has %d days and %d buckets", series.Days, len(series.Buckets))
	}
	for _, bucket := range series.Buckets {
		if bucket.EventCount != 0 {
			t.Errorf("empty store produced %+v", bucket)
		}
	}

	for _, options := range []SeriesOptions{
		{Days: MaxSeriesDays + 1},
		{Days: -1},
		{Granularity: "year"},
	} {
		if _, err := engine.TimeSeries(ctx, 1, options); !observeerr.IsKind(err, observeerr.KindValidation) {
			t.Errorf("TimeSeries(%+v): error = %v, want validation", options, err)
		}
	}
}

func TestTimelineOrderAndDescriptions(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, &agentobs.AgentSession{
		ID:           "s1",
		AgentID:      "github-copilot",
		AgentVersion: "1.0.0",
		ProjectID:    1,
		StartTime:    day(time.March, 4, 8),
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	at := day(time.March, 4, 9)
	insert(t, store, "s1",
		seed{id: "later", at: at.Add(time.Minute), typ: agentobs.EventCommandExecute, data: map[string]any{"command": "go test ./..."}},
		seed{id: "tie-first", at: at, typ: agentobs.EventFileWrite, data: map[string]any{"filePath": "main.go"}},
		seed{id: "tie-second", at: at, typ: agentobs.EventTestRun, data: map[string]any{"passed": true}},
	)

	timeline, err := engine.Timeline(ctx, "s1")
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	want := []struct {
		id          string
		description string
	}{
		{"tie-first", "Modified main.go"},
		{"tie-second", "Tests passed"},
		{"later", "Ran command: go test ./..."},
	}
	if len(timeline) != len(want) {
		t.Fatalf("timeline has %d entries, want %d", len(timeline), len(want))
	}
	for i, entry := range want {
		if timeline[i].ID != entry.id || timeline[i].Description != entry.description {
			t.Errorf("timeline[%d] = %s %q, want %s %q", i, timeline[i].ID, timeline[i].Description, entry.id, entry.description)
		}
	}
	if timeline[0].Sequence >= timeline[1].Sequence {
		t.Errorf("tie not ordered by sequence: %d, %d", timeline[0].Sequence, timeline[1].Sequence)
	}
}

func TestTimelineUnknownAndEmptySession(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Timeline(ctx, "missing"); !observeerr.IsKind(err, observeerr.KindNotFound) {
		t.Errorf("Timeline(missing): error = %v, want not found", err)
	}

	if err := store.CreateSession(ctx, &agentobs.AgentSession{
		ID: "quiet", AgentID: "a", AgentVersion: "1", ProjectID: 1, StartTime: aggregateTestNow,
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	timeline, err := engine.Timeline(ctx, "quiet")
	if err != nil {
		t.Fatalf("Timeline(quiet): %v", err)
	}
	if len(timeline) != 0 {
		t.Errorf("timeline = %+v, want empty", timeline)
	}
}

func TestStatsRejectUnknownEnumerations(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.EventStats(ctx, agentobs.EventFilter{EventType: "teleport"}); !observeerr.IsKind(err, observeerr.KindValidation) {
		t.Errorf("EventStats: error = %v, want validation", err)
	}
	if _, err := engine.SessionStats(ctx, agentobs.SessionFilter{Outcome: "meh"}); !observeerr.IsKind(err, observeerr.KindValidation) {
		t.Errorf("SessionStats: error = %v, want validation", err)
	}

	stats, err := engine.EventStats(ctx, agentobs.EventFilter{})
	if err != nil {
		t.Fatalf("EventStats: %v", err)
	}
	if stats.TotalEvents != 0 || stats.EventsByType == nil || stats.EventsBySeverity == nil {
		t.Errorf("empty stats = %+v, want zero totals and non-nil maps", stats)
	}
}
