// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"
	"time"

	"github.com/codervisor/devlog-sub006/lib/ingest"
	"github.com/codervisor/devlog-sub006/lib/version"
)

// healthResponse is the body of /health.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth reports whether the store answers. An unreachable
// store is a 503 so load balancers stop routing to the instance.
func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn("health check failed", "error", err)
		a.writeResponse(w, r, http.StatusServiceUnavailable, healthResponse{
			Status:    "unavailable",
			Timestamp: a.clock.Now().UTC(),
		})
		return
	}
	a.writeResponse(w, r, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: a.clock.Now().UTC(),
	})
}

// statusResponse is the body of /status. It carries only aggregate
// counters, no event content.
type statusResponse struct {
	Version       string          `json:"version"`
	Commit        string          `json:"commit"`
	Ingest        ingest.Counters `json:"ingest"`
	Subscribers   int             `json:"subscribers"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeResponse(w, r, http.StatusOK, statusResponse{
		Version:       version.Short(),
		Commit:        version.Commit(),
		Ingest:        a.ingest.Counters(),
		Subscribers:   a.broadcaster.Count(),
		UptimeSeconds: a.clock.Now().Sub(a.startedAt).Seconds(),
	})
}
