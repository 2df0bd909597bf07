// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the pipeline's SQLite database as a fixed
// pool of zombiezen.com/go/sqlite connections.
//
// Every connection is prepared with the same pragmas: WAL journaling
// so dashboard reads never wait on ingestion writes, synchronous=NORMAL,
// a busy timeout so concurrent batch writers queue on the write lock
// instead of failing, and an in-memory temp store for the GROUP BY
// work done by the aggregation queries. An optional idempotent schema
// script runs on each new connection before OnConnect.
//
// Connections are not safe for concurrent use. A goroutine takes one,
// does its work, and puts it back:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// Write-lock contention that outlives the busy timeout surfaces as
// SQLITE_BUSY or SQLITE_LOCKED; IsBusy classifies those so callers can
// report them as retryable.
package sqlitepool
