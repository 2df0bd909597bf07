// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the wire encodings accepted and produced by
// the observability service: JSON (the default, and what collectors
// send) and CBOR (application/cbor, for collectors that batch large
// payloads).
//
// CBOR uses fxamacker/cbor with Core Deterministic Encoding, so the
// same value always produces the same bytes. Struct fields without a
// cbor tag fall back to their json tag, which lets every API type carry
// a single set of json tags and serve both encodings. Timestamps are
// encoded as RFC 3339 strings with nanoseconds, matching the JSON form.
//
// Decoding into an any-typed target yields map[string]any for CBOR
// maps, the same shape encoding/json produces, so free-form event data
// looks identical whichever encoding delivered it.
package codec
