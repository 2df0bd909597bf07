// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codervisor/devlog-sub006/lib/sqlitepool"
)

const testSchema = `
	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
`

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	readPragma := func(name string) string {
		var value string
		err := sqlitex.ExecuteTransient(conn, "PRAGMA "+name, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("PRAGMA %s: %v", name, err)
		}
		return value
	}

	if got := readPragma("journal_mode"); got != "wal" {
		t.Errorf("journal_mode = %q, want wal", got)
	}
	if got := readPragma("synchronous"); got != "1" {
		t.Errorf("synchronous = %q, want 1 (NORMAL)", got)
	}
	if got := readPragma("busy_timeout"); got != "5000" {
		t.Errorf("busy_timeout = %q, want 5000", got)
	}
}

func TestSchemaAndOnConnect(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	pool := openTestPool(t, sqlitepool.Config{
		Schema: testSchema,
		OnConnect: func(conn *sqlite.Conn) error {
			mu.Lock()
			connects++
			mu.Unlock()
			return nil
		},
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO counters (name, value) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{"events", 1},
	})
	if err != nil {
		t.Fatalf("INSERT into schema table: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if connects == 0 {
		t.Error("OnConnect was not called")
	}
}

func TestOnConnectErrorSurfacesOnTake(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(*sqlite.Conn) error { return errors.New("boom") },
	})
	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take succeeded despite failing OnConnect")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{Schema: testSchema, PoolSize: 4})
	ctx := context.Background()

	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "INSERT INTO counters (name) VALUES ('events')", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pool.Put(conn)

	const writers = 8
	const perWriter = 25
	var waitGroup sync.WaitGroup
	failures := make(chan error, writers)
	for range writers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			conn, err := pool.Take(ctx)
			if err != nil {
				failures <- err
				return
			}
			defer pool.Put(conn)
			for range perWriter {
				err := sqlitex.Execute(conn, "UPDATE counters SET value = value + 1 WHERE name = 'events'", nil)
				if err != nil {
					failures <- err
					return
				}
			}
		}()
	}
	waitGroup.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}

	conn, err = pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	var total int64
	err = sqlitex.Execute(conn, "SELECT value FROM counters WHERE name = 'events'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if total != writers*perWriter {
		t.Errorf("value = %d, want %d", total, writers*perWriter)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open accepted an empty Path")
	}
}

func TestTakeHonoursCancelledContext(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{PoolSize: 1})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take on an exhausted pool with a cancelled context succeeded")
	}
}

func TestIsBusy(t *testing.T) {
	if sqlitepool.IsBusy(nil) {
		t.Error("IsBusy(nil) = true")
	}
	if sqlitepool.IsBusy(errors.New("syntax error")) {
		t.Error("IsBusy(plain error) = true")
	}
	if !sqlitepool.IsBusy(fmt.Errorf("take: %w", context.DeadlineExceeded)) {
		t.Error("IsBusy(deadline exceeded) = false")
	}
}

func openTestPool(t *testing.T, cfg sqlitepool.Config) *sqlitepool.Pool {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "pool_test.db")
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
