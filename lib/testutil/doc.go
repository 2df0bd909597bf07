// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for the observability
// pipeline packages.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout pattern so that individual tests never call
// time.After themselves. These are the only wall-clock timeouts in
// the test suite; everything else runs on clock.FakeClock.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
