// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentobs defines the agent observability data model: the
// AgentEvent log, AgentSession lifecycle records, the Machine and
// Workspace hierarchy inferred from event context, and the filter and
// aggregate shapes served by the query API.
//
// All types carry json tags only. The same tags name CBOR fields
// through the codec package's json-tag fallback, so collectors may
// post either encoding.
//
// Event data is free-form on the wire and in storage. Payload decodes
// it into one concrete type per EventType; metrics derivation and
// timeline descriptions switch on that concrete type rather than
// probing map keys.
package agentobs
