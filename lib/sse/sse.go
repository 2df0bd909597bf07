// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse writes Server-Sent Events streams.
//
// A Frame is either a named event with a data payload or a comment
// line (used for heartbeats). Writer sets the streaming response
// headers once and flushes after every frame so proxies and browsers
// see each frame immediately.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Frame is one SSE message. A frame with a Comment and no Event is
// written as a comment line.
type Frame struct {
	Event   string
	Data    []byte
	Comment string
}

// JSON returns a frame named event whose data is payload encoded as
// JSON.
func JSON(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("sse: encoding %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Heartbeat returns the keep-alive comment ": heartbeat <epoch-ms>".
func Heartbeat(now time.Time) Frame {
	return Frame{Comment: "heartbeat " + strconv.FormatInt(now.UnixMilli(), 10)}
}

// IsHeartbeat reports whether f is a comment-only frame.
func (f Frame) IsHeartbeat() bool {
	return f.Event == "" && f.Comment != ""
}

// Encode returns the wire form of f, terminated by a blank line.
// Multi-line data is split into one data line per line.
func (f Frame) Encode() []byte {
	var buffer bytes.Buffer
	if f.Comment != "" {
		buffer.WriteString(": ")
		buffer.WriteString(f.Comment)
		buffer.WriteByte('\n')
	}
	if f.Event != "" {
		buffer.WriteString("event: ")
		buffer.WriteString(f.Event)
		buffer.WriteByte('\n')
		for line := range bytes.SplitSeq(f.Data, []byte("\n")) {
			buffer.WriteString("data: ")
			buffer.Write(line)
			buffer.WriteByte('\n')
		}
	}
	buffer.WriteByte('\n')
	return buffer.Bytes()
}

// Writer streams frames to one HTTP response.
type Writer struct {
	writer       io.Writer
	controller   *http.ResponseController
	writeTimeout time.Duration
}

// NewWriter writes the event-stream headers and a 200 status, then
// flushes so the client sees the stream open. A positive writeTimeout
// bounds each frame write; a slow client then fails the write instead
// of blocking the stream forever.
func NewWriter(w http.ResponseWriter, writeTimeout time.Duration) (*Writer, error) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writer := &Writer{
		writer:       w,
		controller:   http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
	if err := writer.flush(); err != nil {
		return nil, err
	}
	return writer, nil
}

// Send writes one frame and flushes it.
func (w *Writer) Send(frame Frame) error {
	if w.writeTimeout > 0 {
		err := w.controller.SetWriteDeadline(time.Now().Add(w.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("sse: setting write deadline: %w", err)
		}
	}
	if _, err := w.writer.Write(frame.Encode()); err != nil {
		return fmt.Errorf("sse: writing frame: %w", err)
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if err := w.controller.Flush(); err != nil {
		return fmt.Errorf("sse: flushing: %w", err)
	}
	return nil
}
