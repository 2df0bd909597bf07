// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/codervisor/devlog-sub006/lib/codec"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// eventIDDomainKey keys the BLAKE3 hash behind content-derived event
// ids. Changing it changes every derived id, which breaks retry
// deduplication for collectors with events still in flight.
var eventIDDomainKey = [32]byte{
	'd', 'e', 'v', 'l', 'o', 'g', '.', 'o', 'b', 's', 'e', 'r', 'v', 'e', '.', 'e',
	'v', 'e', 'n', 't', '-', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// eventIdentity is the content an event id is derived from. Field
// order is fixed by the struct and map keys are sorted by the
// deterministic CBOR encoding, so equal events always hash equally.
type eventIdentity struct {
	SessionID string         `cbor:"1,keyasint"`
	Timestamp int64          `cbor:"2,keyasint"`
	Type      string         `cbor:"3,keyasint"`
	AgentID   string         `cbor:"4,keyasint"`
	Data      map[string]any `cbor:"5,keyasint"`
}

// DeriveEventID returns a stable UUID-formatted id for an event that
// arrived without one. A collector retrying the same batch gets the
// same ids, so the retry is absorbed as duplicates, whichever body
// encoding each attempt used: integral numbers hash as integers
// whether they were decoded from JSON or CBOR.
//
// The id is the first 16 bytes of a keyed BLAKE3 hash with the RFC
// 9562 version 8 (custom) and variant bits set.
func DeriveEventID(event *agentobs.AgentEvent) (string, error) {
	encoded, err := codec.Marshal(eventIdentity{
		SessionID: event.SessionID,
		Timestamp: event.Timestamp.UnixNano(),
		Type:      string(event.Type),
		AgentID:   event.AgentID,
		Data:      canonicalData(event.Data),
	})
	if err != nil {
		return "", fmt.Errorf("encoding event identity: %w", err)
	}

	hasher, err := blake3.NewKeyed(eventIDDomainKey[:])
	if err != nil {
		panic("ingest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var digest [32]byte
	hasher.Sum(digest[:0])

	var id uuid.UUID
	copy(id[:], digest[:16])
	id[6] = (id[6] & 0x0f) | 0x80
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String(), nil
}

// canonicalData copies data with every integral number converted to an
// integer. JSON decodes all numbers as float64 while CBOR keeps
// integers, and the two encode differently.
func canonicalData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	canonical := make(map[string]any, len(data))
	for key, value := range data {
		canonical[key] = canonicalValue(value)
	}
	return canonical
}

func canonicalValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return canonicalData(typed)
	case []any:
		canonical := make([]any, len(typed))
		for i, element := range typed {
			canonical[i] = canonicalValue(element)
		}
		return canonical
	case float32:
		return canonicalFloat(float64(typed))
	case float64:
		return canonicalFloat(typed)
	case int:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		if typed <= math.MaxInt64 {
			return int64(typed)
		}
		return typed
	}
	return value
}

func canonicalFloat(value float64) any {
	if value != math.Trunc(value) || math.IsInf(value, 0) {
		return value
	}
	switch {
	case value >= -(1<<63) && value < 1<<63:
		return int64(value)
	case value >= 0 && value < 1<<64:
		return uint64(value)
	}
	return value
}
