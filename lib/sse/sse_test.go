// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestFrameEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"event", Frame{Event: "events", Data: []byte(`[{"id":"e1"}]`)}, "event: events\ndata: [{\"id\":\"e1\"}]\n\n"},
		{"multiline", Frame{Event: "error", Data: []byte("a\nb")}, "event: error\ndata: a\ndata: b\n\n"},
		{"comment", Frame{Comment: "heartbeat 1"}, ": heartbeat 1\n\n"},
		{"empty data", Frame{Event: "connected"}, "event: connected\ndata: \n\n"},
	}
	for _, test := range tests {
		if got := string(test.frame.Encode()); got != test.want {
			t.Errorf("%s: Encode = %q, want %q", test.name, got, test.want)
		}
	}
}

func TestHeartbeat(t *testing.T) {
	frame := Heartbeat(time.UnixMilli(1700000000123))
	if !frame.IsHeartbeat() {
		t.Error("heartbeat frame not recognized")
	}
	if got := string(frame.Encode()); got != ": heartbeat 1700000000123\n\n" {
		t.Errorf("Encode = %q", got)
	}
	frame, err := JSON("connected", map[string]int{"clientCount": 1})
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if frame.IsHeartbeat() {
		t.Error("named frame reported as heartbeat")
	}
}

func TestWriterHeadersAndFrames(t *testing.T) {
	recorder := httptest.NewRecorder()
	writer, err := NewWriter(recorder, time.Second)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if !recorder.Flushed {
		t.Error("stream open was not flushed")
	}

	headers := map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache, no-transform",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}
	for name, want := range headers {
		if got := recorder.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	frame, err := JSON("session.created", map[string]string{"id": "s1"})
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if err := writer.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := "event: session.created\ndata: {\"id\":\"s1\"}\n\n"
	if got := recorder.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}
