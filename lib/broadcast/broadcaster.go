// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broadcast fans pipeline state changes out to live dashboard
// connections.
//
// A Broadcaster keeps a registry of subscriptions. Broadcast encodes a
// payload once and appends the frame to every matching subscriber's
// bounded queue; it never blocks on a connection and never fails. Each
// subscription is drained by its own Serve call, normally running on
// the HTTP handler goroutine of the stream request, so a slow or dead
// client only ever stalls itself.
//
// When a queue is full the configured OverflowPolicy applies: the
// oldest frame is discarded (the default, counted per subscription),
// or the subscription is disconnected.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/metrics"
	"github.com/codervisor/devlog-sub006/lib/sse"
)

// SSE event names.
const (
	EventConnected        = "connected"
	EventEvents           = "events"
	EventSessionCreated   = "session.created"
	EventSessionCompleted = "session.completed"
	EventStatsUpdated     = "stats.updated"
	EventError            = "error"
)

// Defaults.
const (
	DefaultQueueSize         = 256
	DefaultHeartbeatInterval = 30 * time.Second
)

// ErrShutdown is returned by Subscribe after Shutdown.
var ErrShutdown = errors.New("broadcast: broadcaster is shut down")

// Conn is the write side of one client connection. *sse.Writer
// satisfies it.
type Conn interface {
	Send(frame sse.Frame) error
}

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// DropOldest discards the oldest queued frame to make room.
	DropOldest OverflowPolicy = "drop-oldest"

	// Disconnect closes the subscription.
	Disconnect OverflowPolicy = "disconnect"
)

// Valid reports whether p is a known policy.
func (p OverflowPolicy) Valid() bool {
	return p == DropOldest || p == Disconnect
}

// Filter restricts what a subscription receives. A zero ProjectID
// receives everything.
type Filter struct {
	ProjectID int64
}

func (f Filter) matches(projectID int64) bool {
	return f.ProjectID == 0 || projectID == 0 || f.ProjectID == projectID
}

// Config configures a Broadcaster.
type Config struct {
	// QueueSize bounds each subscriber's pending frames. Defaults to
	// DefaultQueueSize.
	QueueSize int

	// Overflow defaults to DropOldest.
	Overflow OverflowPolicy

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Clock drives heartbeats and frame timestamps. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Broadcaster is the registry of live subscriptions. Safe for
// concurrent use.
type Broadcaster struct {
	queueSize         int
	overflow          OverflowPolicy
	heartbeatInterval time.Duration
	clock             clock.Clock
	logger            *slog.Logger
	metrics           *metrics.Metrics

	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	shutdown    bool

	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
}

// New returns a Broadcaster. Call Start to begin heartbeats.
func New(cfg Config) *Broadcaster {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	overflow := cfg.Overflow
	if !overflow.Valid() {
		overflow = DropOldest
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Broadcaster{
		queueSize:         queueSize,
		overflow:          overflow,
		heartbeatInterval: heartbeatInterval,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		subscribers:       make(map[uint64]*Subscription),
	}
}

// Start launches the heartbeat loop. It runs until ctx is cancelled or
// Shutdown is called.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.mu.Lock()
	b.stopHeartbeat = cancel
	b.heartbeatDone = done
	b.mu.Unlock()

	ticker := b.clock.NewTicker(b.heartbeatInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.heartbeat(now)
			}
		}
	}()
}

func (b *Broadcaster) heartbeat(now time.Time) {
	frame := sse.Heartbeat(now)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subscription := range b.subscribers {
		subscription.enqueue(frame)
	}
}

// Subscribe registers conn and queues its connected frame, which
// carries the subscriber count including the new subscription. The
// caller must run Serve on the returned subscription.
func (b *Broadcaster) Subscribe(conn Conn, filter Filter) (*Subscription, error) {
	subscription := &Subscription{
		broadcaster: b,
		conn:        conn,
		filter:      filter,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil, ErrShutdown
	}
	b.nextID++
	subscription.id = b.nextID
	b.subscribers[subscription.id] = subscription
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SubscriberAdded("push")
	b.logger.Debug("stream subscriber connected",
		"subscription_id", subscription.id,
		"project_id", filter.ProjectID,
		"subscribers", count,
	)

	frame, err := sse.JSON(EventConnected, map[string]any{
		"timestamp":   b.clock.Now().UTC(),
		"clientCount": count,
	})
	if err == nil {
		subscription.enqueue(frame)
	}
	return subscription, nil
}

// Unsubscribe removes subscription and stops its Serve loop. Safe to
// call more than once and from any goroutine.
func (b *Broadcaster) Unsubscribe(subscription *Subscription) {
	b.mu.Lock()
	_, registered := b.subscribers[subscription.id]
	delete(b.subscribers, subscription.id)
	remaining := len(b.subscribers)
	b.mu.Unlock()

	subscription.stop()
	if registered {
		b.metrics.SubscriberRemoved("push")
		b.logger.Debug("stream subscriber disconnected",
			"subscription_id", subscription.id,
			"dropped_frames", subscription.Dropped(),
			"subscribers", remaining,
		)
	}
}

// Broadcast sends payload as an SSE event named eventType to every
// subscriber.
func (b *Broadcaster) Broadcast(eventType string, payload any) {
	b.BroadcastProject(0, eventType, payload)
}

// BroadcastProject sends payload to subscribers whose filter admits
// projectID. A zero projectID reaches everyone. Encoding happens once;
// failures are logged, never returned.
func (b *Broadcaster) BroadcastProject(projectID int64, eventType string, payload any) {
	frame, err := sse.JSON(eventType, payload)
	if err != nil {
		b.logger.Error("dropping unencodable broadcast", "event", eventType, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subscription := range b.subscribers {
		if subscription.filter.matches(projectID) {
			subscription.enqueue(frame)
		}
	}
}

// Count returns the number of live subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Shutdown stops the heartbeat loop and closes every subscription.
// Later Subscribe calls fail with ErrShutdown.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	b.shutdown = true
	stopHeartbeat, heartbeatDone := b.stopHeartbeat, b.heartbeatDone
	subscriptions := make([]*Subscription, 0, len(b.subscribers))
	for _, subscription := range b.subscribers {
		subscriptions = append(subscriptions, subscription)
	}
	b.mu.Unlock()

	if stopHeartbeat != nil {
		stopHeartbeat()
		<-heartbeatDone
	}
	for _, subscription := range subscriptions {
		b.Unsubscribe(subscription)
	}
}
