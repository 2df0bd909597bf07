// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

func (a *api) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var input agentobs.StartSessionInput
	if err := decodeBody(r, &input); err != nil {
		a.writeError(w, err)
		return
	}
	session, err := a.sessions.Start(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusCreated, session)
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	sessions, err := a.sessions.List(r.Context(), filter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(sessions))
}

func (a *api) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL.Query())
	projectID := q.integer64("projectId")
	if err := q.err(); err != nil {
		a.writeError(w, err)
		return
	}
	sessions, err := a.sessions.ListActive(r.Context(), projectID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(sessions))
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, session)
}

// handleEndSession ends a session. The body is optional; without one
// the session ends with no outcome or score.
func (a *api) handleEndSession(w http.ResponseWriter, r *http.Request) {
	format, data, err := readBody(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var input agentobs.EndSessionInput
	if len(data) > 0 {
		if err := decodeData(format, data, &input); err != nil {
			a.writeError(w, err)
			return
		}
	}
	session, err := a.sessions.End(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, session)
}

func (a *api) handleTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := a.aggregate.Timeline(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(timeline))
}

// handleSessionEvents returns every event of one session in
// chronological order.
func (a *api) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.sessions.Get(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	events, err := a.store.SessionEvents(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(events))
}

func (a *api) handleEventStats(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilter(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	stats, err := a.aggregate.EventStats(r.Context(), filter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, stats)
}

func (a *api) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	stats, err := a.aggregate.SessionStats(r.Context(), filter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, stats)
}

func (a *api) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	projectID, options, err := seriesOptions(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	series, err := a.aggregate.TimeSeries(r.Context(), projectID, options)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, series)
}
