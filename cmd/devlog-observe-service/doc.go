// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// devlog-observe-service is the AI-agent observability pipeline of the
// devlog application. It accepts agent activity events from collectors,
// keeps session lifecycle records, and streams state changes to live
// dashboards.
//
// Every route is served at the root and again under /api:
//
//	POST /events                 ingest one event
//	POST /events/batch           ingest up to 1000 events idempotently
//	GET  /events                 query events, newest first
//	GET  /events/stream          server-sent event stream (push or poll)
//	GET  /events/{id}
//	GET  /sessions               POST /sessions to start one
//	GET  /sessions/active
//	GET  /sessions/{id}          POST /sessions/{id}/end to end it
//	GET  /sessions/{id}/timeline
//	GET  /sessions/{id}/events
//	GET  /stats/events, /stats/sessions, /stats/timeseries
//	POST /machines, /workspaces  register hierarchy up front
//	GET  /health, /status, /metrics
//
// Request bodies are JSON or CBOR (by Content-Type) and may be gzip,
// zstd or lz4 compressed (by Content-Encoding). Responses follow the
// Accept header. Errors are JSON objects of the form
// {"error": {"kind": ..., "message": ..., "entity": ...}}.
//
// Events, sessions and the machine/workspace hierarchy live in one
// SQLite database (--db-path). Every flag also reads a DEVLOG_*
// environment variable: --poll-interval defaults from
// DEVLOG_POLL_INTERVAL.
package main
