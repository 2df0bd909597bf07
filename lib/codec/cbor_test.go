// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

// wireEvent carries only json tags, like every API type.
type wireEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Tags      []string       `json:"tags,omitempty"`
}

func TestCBORRoundtripUsesJSONTags(t *testing.T) {
	original := wireEvent{
		ID:        "evt-1",
		Type:      "file_write",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		Data:      map[string]any{"filePath": "main.go"},
		Tags:      []string{"go"},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	if generic["type"] != "file_write" {
		t.Errorf("type key = %v, want file_write (json tag fallback)", generic["type"])
	}
	if _, ok := generic["data"].(map[string]any); !ok {
		t.Errorf("nested map decoded as %T, want map[string]any", generic["data"])
	}

	var decoded wireEvent
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("timestamp = %v, want %v (nanoseconds preserved)", decoded.Timestamp, original.Timestamp)
	}
	if decoded.Data["filePath"] != "main.go" {
		t.Errorf("data.filePath = %v", decoded.Data["filePath"])
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"b": 2, "a": 1, "c": []any{"x", "y"}}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x != %x", first, again)
		}
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, id := range []string{"a", "b", "c"} {
		if err := encoder.Encode(wireEvent{ID: id}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"a", "b", "c"} {
		var got wireEvent
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.ID != want {
			t.Errorf("ID = %q, want %q", got.ID, want)
		}
	}
}

func TestFromContentType(t *testing.T) {
	tests := []struct {
		header  string
		want    Format
		wantErr bool
	}{
		{"", JSON, false},
		{"application/json", JSON, false},
		{"application/json; charset=utf-8", JSON, false},
		{"application/cbor", CBOR, false},
		{"text/plain", JSON, true},
		{";;", JSON, true},
	}
	for _, test := range tests {
		got, err := FromContentType(test.header)
		if (err != nil) != test.wantErr {
			t.Errorf("FromContentType(%q) error = %v, wantErr %v", test.header, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("FromContentType(%q) = %v, want %v", test.header, got, test.want)
		}
	}
}

func TestFromAccept(t *testing.T) {
	tests := []struct {
		header string
		want   Format
	}{
		{"", JSON},
		{"*/*", JSON},
		{"application/cbor", CBOR},
		{"application/cbor, application/json", CBOR},
		{"application/json, application/cbor", JSON},
		{"text/html, application/cbor;q=0.9", CBOR},
	}
	for _, test := range tests {
		if got := FromAccept(test.header); got != test.want {
			t.Errorf("FromAccept(%q) = %v, want %v", test.header, got, test.want)
		}
	}
}

func TestEncodeDecodeBothFormats(t *testing.T) {
	for _, format := range []Format{JSON, CBOR} {
		data, err := Encode(format, wireEvent{ID: "x", Type: "test_run"})
		if err != nil {
			t.Fatalf("Encode(%v): %v", format, err)
		}
		var decoded wireEvent
		if err := Decode(format, data, &decoded); err != nil {
			t.Fatalf("Decode(%v): %v", format, err)
		}
		if decoded.ID != "x" || decoded.Type != "test_run" {
			t.Errorf("%v roundtrip = %+v", format, decoded)
		}
	}
}
