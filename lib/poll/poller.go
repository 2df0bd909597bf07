// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package poll is the secondary realtime strategy: a per-connection
// loop that re-queries the event log on an interval and forwards
// whatever is new since its cursor.
//
// Push subscriptions (package broadcast) only route by project. A
// stream that filters by session, agent, type, severity or tags is
// served by a Poller instead. The cursor is the store sequence, so
// events with equal timestamps are never skipped or repeated.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/metrics"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
	"github.com/codervisor/devlog-sub006/lib/sse"
)

// Defaults for Config.
const (
	DefaultInterval          = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Strategy is the metrics label for polling subscribers.
const Strategy = "poll"

// Source reads events in sequence order. *eventstore.Store satisfies
// it.
type Source interface {
	LatestSequence(ctx context.Context) (int64, error)
	EventsAfter(ctx context.Context, filter agentobs.EventFilter) ([]agentobs.AgentEvent, error)
}

// Conn receives frames. *sse.Writer satisfies it.
type Conn interface {
	Send(frame sse.Frame) error
}

// Config configures a Poller.
type Config struct {
	Source Source

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Poller runs polling streams. One Poller serves any number of
// concurrent Run calls.
type Poller struct {
	source            Source
	interval          time.Duration
	heartbeatInterval time.Duration
	clock             clock.Clock
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

// New returns a Poller.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Poller{
		source:            cfg.Source,
		interval:          interval,
		heartbeatInterval: heartbeatInterval,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
	}
}

// connectedPayload is the data of the connected frame.
type connectedPayload struct {
	Timestamp time.Time            `json:"timestamp"`
	Filters   agentobs.EventFilter `json:"filters"`
}

// errorPayload is the data of an error frame.
type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Run streams events matching filter to conn until ctx is cancelled or
// a write fails. The stream starts at the newest stored event: only
// events stored after Run begins are delivered. A failed query is
// reported as an error frame and retried on the next tick.
//
// Returns nil on cancellation and a connection error on write failure.
func (p *Poller) Run(ctx context.Context, conn Conn, filter agentobs.EventFilter) error {
	cursor, err := p.source.LatestSequence(ctx)
	if err != nil {
		return err
	}

	p.metrics.SubscriberAdded(Strategy)
	defer p.metrics.SubscriberRemoved(Strategy)

	connected, err := sse.JSON("connected", connectedPayload{
		Timestamp: p.clock.Now().UTC(),
		Filters:   filter,
	})
	if err != nil {
		return err
	}
	if err := p.send(conn, connected); err != nil {
		return err
	}

	pollTicker := p.clock.NewTicker(p.interval)
	defer pollTicker.Stop()
	heartbeatTicker := p.clock.NewTicker(p.heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-heartbeatTicker.C:
			if err := p.send(conn, sse.Heartbeat(now)); err != nil {
				return err
			}

		case <-pollTicker.C:
			cursor, err = p.poll(ctx, conn, filter, cursor)
			if err != nil {
				return err
			}
		}
	}
}

// poll forwards every event after cursor, in pages of
// agentobs.MaxLimit, and returns the advanced cursor. Only write
// failures are returned; query failures become error frames.
func (p *Poller) poll(ctx context.Context, conn Conn, filter agentobs.EventFilter, cursor int64) (int64, error) {
	for {
		page := filter
		page.AfterSequence = cursor
		page.Limit = agentobs.MaxLimit
		events, err := p.source.EventsAfter(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return cursor, nil
			}
			p.logger.Warn("polling stream query failed", "after_sequence", cursor, "error", err)
			kind := "internal"
			if classified, ok := observeerr.As(err); ok {
				kind = string(classified.Kind)
			}
			frame, encodeErr := sse.JSON("error", errorPayload{Kind: kind, Message: "event query failed"})
			if encodeErr != nil {
				return cursor, encodeErr
			}
			return cursor, p.send(conn, frame)
		}
		if len(events) == 0 {
			return cursor, nil
		}

		frame, err := sse.JSON("events", events)
		if err != nil {
			return cursor, err
		}
		if err := p.send(conn, frame); err != nil {
			return cursor, err
		}
		cursor = events[len(events)-1].Sequence
		if len(events) < agentobs.MaxLimit {
			return cursor, nil
		}
	}
}

func (p *Poller) send(conn Conn, frame sse.Frame) error {
	if err := conn.Send(frame); err != nil {
		return observeerr.Connection(err, "polling stream: write failed")
	}
	if !frame.IsHeartbeat() {
		p.metrics.FrameSent(frame.Event)
	}
	return nil
}
