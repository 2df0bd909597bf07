// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source used by the observability
// pipeline.
//
// Event timestamps, session durations, heartbeat frames, stream polling
// and project-scope eviction all read time through a Clock so that
// tests can pin "now" and fire periodic work on demand:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
//	broadcaster := broadcast.New(broadcast.Config{Clock: fake, ...})
//	go broadcaster.Start(ctx)
//	fake.WaitForTimers(1)           // heartbeat ticker registered
//	fake.Advance(30 * time.Second)  // heartbeat fires
//
// WaitForTimers closes the race between a goroutine creating its ticker
// and the test advancing the clock past the first deadline.
package clock
