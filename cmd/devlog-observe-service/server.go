// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codervisor/devlog-sub006/lib/aggregate"
	"github.com/codervisor/devlog-sub006/lib/broadcast"
	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/codec"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/ingest"
	"github.com/codervisor/devlog-sub006/lib/metrics"
	"github.com/codervisor/devlog-sub006/lib/netutil"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/poll"
	"github.com/codervisor/devlog-sub006/lib/sessions"
)

// api holds the components behind the HTTP routes. Handlers are
// methods so every route shares one set of dependencies.
type api struct {
	store       *eventstore.Store
	ingest      *ingest.Service
	sessions    *sessions.Manager
	aggregate   *aggregate.Engine
	broadcaster *broadcast.Broadcaster
	poller      *poll.Poller
	gatherer    prometheus.Gatherer

	streamWriteTimeout time.Duration

	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	startedAt time.Time
}

// router serves every route at the root and again under /api, where
// collectors post.
func (a *api) router() http.Handler {
	router := mux.NewRouter()
	a.register(router.PathPrefix("/api").Subrouter())
	a.register(router)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, observeerr.NotFound("route", "no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "method_not_allowed", "", r.Method+" is not allowed on "+r.URL.Path)
	})
	return router
}

func (a *api) register(router *mux.Router) {
	router.HandleFunc("/events", a.handleIngestEvent).Methods(http.MethodPost)
	router.HandleFunc("/events/batch", a.handleIngestBatch).Methods(http.MethodPost)
	router.HandleFunc("/events", a.handleListEvents).Methods(http.MethodGet)
	router.HandleFunc("/events/stream", a.handleStream).Methods(http.MethodGet)
	router.HandleFunc("/events/{id}", a.handleGetEvent).Methods(http.MethodGet)

	router.HandleFunc("/sessions", a.handleListSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions", a.handleStartSession).Methods(http.MethodPost)
	// Registered before /sessions/{id} so "active" is not taken as an id.
	router.HandleFunc("/sessions/active", a.handleActiveSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", a.handleGetSession).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/end", a.handleEndSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/timeline", a.handleTimeline).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/events", a.handleSessionEvents).Methods(http.MethodGet)

	router.HandleFunc("/stats/events", a.handleEventStats).Methods(http.MethodGet)
	router.HandleFunc("/stats/sessions", a.handleSessionStats).Methods(http.MethodGet)
	router.HandleFunc("/stats/timeseries", a.handleTimeSeries).Methods(http.MethodGet)

	router.HandleFunc("/machines", a.handleUpsertMachine).Methods(http.MethodPost)
	router.HandleFunc("/machines", a.handleListMachines).Methods(http.MethodGet)
	router.HandleFunc("/machines/{machineId}", a.handleGetMachine).Methods(http.MethodGet)
	router.HandleFunc("/workspaces", a.handleUpsertWorkspace).Methods(http.MethodPost)
	router.HandleFunc("/workspaces", a.handleListWorkspaces).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{workspaceId}", a.handleGetWorkspace).Methods(http.MethodGet)

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// readBody reads the request body, undoing any Content-Encoding, and
// reports the format its Content-Type names.
func readBody(r *http.Request) (codec.Format, []byte, error) {
	format, err := codec.FromContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return format, nil, &unsupportedMediaError{err: err}
	}
	data, err := netutil.ReadRequestBody(r, netutil.MaxRequestBody)
	return format, data, err
}

// decodeBody reads a required request body into v.
func decodeBody(r *http.Request, v any) error {
	format, data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return observeerr.Validation([]string{"body"}, "request body is empty")
	}
	return decodeData(format, data, v)
}

func decodeData(format codec.Format, data []byte, v any) error {
	if err := codec.Decode(format, data, v); err != nil {
		return observeerr.Validation([]string{"body"}, "malformed %s body: %v", format, err)
	}
	return nil
}

// unsupportedMediaError is a request body in a format the service
// does not read.
type unsupportedMediaError struct {
	err error
}

func (e *unsupportedMediaError) Error() string { return e.err.Error() }
func (e *unsupportedMediaError) Unwrap() error { return e.err }

// writeResponse encodes v in the format the Accept header asks for.
func (a *api) writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	format := codec.FromAccept(r.Header.Get("Accept"))
	data, err := codec.Encode(format, v)
	if err != nil {
		a.logger.Error("encoding response failed", "path", r.URL.Path, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal", "", "encoding response failed")
		return
	}
	w.Header().Set("Content-Type", format.MediaType())
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps err to a status and a JSON error body. Unclassified
// errors are logged and reported without their details.
func (a *api) writeError(w http.ResponseWriter, err error) {
	var unsupported *unsupportedMediaError
	var encoding *netutil.UnsupportedEncodingError
	switch {
	case errors.Is(err, netutil.ErrBodyTooLarge):
		writeErrorBody(w, http.StatusRequestEntityTooLarge, string(observeerr.KindValidation), "body",
			"request body exceeds "+strconv.FormatInt(netutil.MaxRequestBody>>20, 10)+" MiB")
		return
	case errors.As(err, &unsupported), errors.As(err, &encoding):
		writeErrorBody(w, http.StatusUnsupportedMediaType, string(observeerr.KindValidation), "body", err.Error())
		return
	}

	a.metrics.RequestFailed(err)
	status := observeerr.HTTPStatus(err)
	classified, ok := observeerr.As(err)
	if !ok {
		a.logger.Error("request failed", "error", err)
		writeErrorBody(w, status, "internal", "", "internal error")
		return
	}
	if observeerr.Retryable(err) {
		a.logger.Warn("request failed on a transient store error", "error", err)
		w.Header().Set("Retry-After", "1")
	}
	writeErrorJSON(w, status, errorBody{
		Kind:    string(classified.Kind),
		Message: classified.Message,
		Entity:  classified.Entity,
		Fields:  classified.Fields,
	})
}

// errorBody is the "error" member of every failed response.
type errorBody struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Entity  string   `json:"entity,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

func writeErrorBody(w http.ResponseWriter, status int, kind, entity, message string) {
	writeErrorJSON(w, status, errorBody{Kind: kind, Message: message, Entity: entity})
}

func writeErrorJSON(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", codec.MediaTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
}
