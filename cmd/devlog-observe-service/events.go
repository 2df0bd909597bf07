// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codervisor/devlog-sub006/lib/broadcast"
	"github.com/codervisor/devlog-sub006/lib/codec"
	"github.com/codervisor/devlog-sub006/lib/ingest"
	"github.com/codervisor/devlog-sub006/lib/netutil"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
	"github.com/codervisor/devlog-sub006/lib/sse"
)

// Stream modes selectable with ?mode=.
const (
	streamModePush = "push"
	streamModePoll = "poll"
)

func (a *api) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var input agentobs.AgentEvent
	if err := decodeBody(r, &input); err != nil {
		a.writeError(w, err)
		return
	}
	event, err := a.ingest.IngestOne(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusCreated, event)
}

// handleIngestBatch accepts a bare array of events, which is what
// collectors send, or an object with an "events" member.
func (a *api) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	format, data, err := readBody(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	events, err := decodeBatch(format, data)
	if err != nil {
		a.writeError(w, err)
		return
	}
	result, err := a.ingest.IngestBatch(r.Context(), events)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusCreated, result)
}

func decodeBatch(format codec.Format, data []byte) ([]agentobs.AgentEvent, error) {
	if len(data) == 0 {
		return nil, observeerr.Validation([]string{"events"}, "batch must contain at least one event")
	}
	var events []agentobs.AgentEvent
	arrayErr := decodeData(format, data, &events)
	if arrayErr == nil {
		return events, nil
	}
	var wrapped struct {
		Events []agentobs.AgentEvent `json:"events"`
	}
	if err := codec.Decode(format, data, &wrapped); err != nil {
		return nil, arrayErr
	}
	return wrapped.Events, nil
}

func (a *api) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilter(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	events, err := a.ingest.GetEvents(r.Context(), filter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(events))
}

func (a *api) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := a.ingest.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, event)
}

// handleStream serves the realtime event stream. Project-scoped (or
// unscoped) streams are pushed by the broadcaster; narrower filters,
// or an explicit mode=poll, are served by polling the store.
func (a *api) handleStream(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilter(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := ingest.ValidateFilter(filter); err != nil {
		a.writeError(w, err)
		return
	}
	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", streamModePush, streamModePoll:
	default:
		a.writeError(w, observeerr.Validation([]string{"mode"}, "mode must be %s or %s, got %q", streamModePush, streamModePoll, mode))
		return
	}
	if mode == streamModePoll || filter.NeedsPoll() {
		mode = streamModePoll
	} else {
		mode = streamModePush
	}

	writer, err := sse.NewWriter(w, a.streamWriteTimeout)
	if err != nil {
		a.logger.Debug("event stream open failed", "error", err)
		return
	}

	ctx := r.Context()
	if mode == streamModePoll {
		err = a.poller.Run(ctx, writer, filter)
	} else {
		err = a.push(ctx, writer, filter.ProjectID)
	}
	switch {
	case err == nil:
	case netutil.IsExpectedCloseError(err):
		a.logger.Debug("event stream client disconnected", "mode", mode, "error", err)
	default:
		a.logger.Warn("event stream ended", "mode", mode, "error", err)
	}
}

// push subscribes the stream to the broadcaster and serves it until
// the client goes away.
func (a *api) push(ctx context.Context, writer *sse.Writer, projectID int64) error {
	subscription, err := a.broadcaster.Subscribe(writer, broadcast.Filter{ProjectID: projectID})
	if err != nil {
		// Headers are already sent; report shutdown in-band.
		if frame, encodeErr := sse.JSON(broadcast.EventError, errorBody{
			Kind:    "unavailable",
			Message: "service is shutting down",
		}); encodeErr == nil {
			writer.Send(frame)
		}
		return err
	}
	return subscription.Serve(ctx)
}

// nonNil turns a nil slice into an empty one so it encodes as [].
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
