// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors for the observability
// pipeline. Every method is safe to call on a nil *Metrics, so
// libraries accept an optional collector set and tests can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

const namespace = "devlog_observe"

// Metrics is the pipeline's collector set.
type Metrics struct {
	eventsIngested  *prometheus.CounterVec
	batches         prometheus.Counter
	duplicates      prometheus.Counter
	rejected        prometheus.Counter
	framesSent      *prometheus.CounterVec
	framesDropped   prometheus.Counter
	subscribers     *prometheus.GaugeVec
	sessionsStarted *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events written to the store, by event type.",
		}, []string{"type"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch ingestion requests that reached the store.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Batch events skipped because their id was already stored.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Batch events rejected for unresolvable references.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Frames queued to stream subscribers, by SSE event name.",
		}, []string{"event"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_dropped_total",
			Help:      "Frames discarded because a subscriber queue was full.",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Live stream connections, by delivery strategy.",
		}, []string{"strategy"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions created, by origin (explicit or auto).",
		}, []string{"origin"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended, by outcome.",
		}, []string{"outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Failed requests, by error kind.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(
		m.eventsIngested, m.batches, m.duplicates, m.rejected,
		m.framesSent, m.framesDropped, m.subscribers,
		m.sessionsStarted, m.sessionsEnded, m.storeErrors,
	)
	return m
}

// EventIngested counts one stored event.
func (m *Metrics) EventIngested(eventType agentobs.EventType) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(string(eventType)).Inc()
}

// BatchIngested records the outcome of one batch.
func (m *Metrics) BatchIngested(result agentobs.BatchResult) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.duplicates.Add(float64(result.DuplicatesSkipped))
	m.rejected.Add(float64(len(result.Rejected)))
}

// FrameSent counts one frame queued to a subscriber.
func (m *Metrics) FrameSent(event string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(event).Inc()
}

// FrameDropped counts one frame discarded on overflow.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// SubscriberAdded and SubscriberRemoved track live connections.
func (m *Metrics) SubscriberAdded(strategy string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(strategy).Inc()
}

func (m *Metrics) SubscriberRemoved(strategy string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(strategy).Dec()
}

// SessionStarted counts a created session.
func (m *Metrics) SessionStarted(autoCreated bool) {
	if m == nil {
		return
	}
	origin := "explicit"
	if autoCreated {
		origin = "auto"
	}
	m.sessionsStarted.WithLabelValues(origin).Inc()
}

// SessionEnded counts an ended session.
func (m *Metrics) SessionEnded(outcome agentobs.SessionOutcome) {
	if m == nil {
		return
	}
	label := string(outcome)
	if label == "" {
		label = "unspecified"
	}
	m.sessionsEnded.WithLabelValues(label).Inc()
}

// RequestFailed counts a failed request by its error kind.
func (m *Metrics) RequestFailed(err error) {
	if m == nil || err == nil {
		return
	}
	kind := "internal"
	if classified, ok := observeerr.As(err); ok {
		kind = string(classified.Kind)
	}
	m.storeErrors.WithLabelValues(kind).Inc()
}
