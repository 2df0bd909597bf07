// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scopepool is a keyed pool of lazily built, reference-counted
// values that are evicted after sitting idle.
//
// Acquire returns a Lease for a key, building the value on first use.
// Concurrent Acquires of a key that is still being built wait for the
// one build instead of starting their own. A value is idle while no
// lease is outstanding; Sweep (or the Run loop) closes values that
// have been idle for IdleTimeout. Build failures are not cached.
package scopepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
)

// DefaultIdleTimeout is how long an unleased value survives.
const DefaultIdleTimeout = 5 * time.Minute

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("scopepool: pool is closed")

// Config configures a Pool.
type Config[K comparable, V any] struct {
	// Build creates the value for key. Required.
	Build func(ctx context.Context, key K) (V, error)

	// Close releases an evicted value. Optional.
	Close func(key K, value V)

	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Clock is required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

type entry[V any] struct {
	value    V
	err      error
	ready    chan struct{}
	refs     int
	lastUsed time.Time
}

// Pool holds one value per key. Safe for concurrent use.
type Pool[K comparable, V any] struct {
	build       func(ctx context.Context, key K) (V, error)
	close       func(key K, value V)
	idleTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[K]*entry[V]
	closed  bool
}

// New returns an empty Pool.
func New[K comparable, V any](cfg Config[K, V]) *Pool[K, V] {
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Pool[K, V]{
		build:       cfg.Build,
		close:       cfg.Close,
		idleTimeout: idleTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		entries:     make(map[K]*entry[V]),
	}
}

// Lease is a counted reference to a pooled value. Release it when
// done; the value is not evicted while any lease is outstanding.
type Lease[K comparable, V any] struct {
	pool     *Pool[K, V]
	key      K
	value    V
	released sync.Once
}

// Value returns the leased value.
func (l *Lease[K, V]) Value() V { return l.value }

// Release returns the lease. Safe to call more than once.
func (l *Lease[K, V]) Release() {
	l.released.Do(func() { l.pool.release(l.key) })
}

// Acquire leases the value for key, building it if absent.
func (p *Pool[K, V]) Acquire(ctx context.Context, key K) (*Lease[K, V], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	current, exists := p.entries[key]
	if exists {
		current.refs++
		p.mu.Unlock()
		return p.await(ctx, key, current)
	}

	current = &entry[V]{ready: make(chan struct{}), refs: 1}
	p.entries[key] = current
	p.mu.Unlock()

	value, err := p.build(ctx, key)

	p.mu.Lock()
	current.value, current.err = value, err
	current.lastUsed = p.clock.Now()
	if err != nil {
		// Waiters still hold references to this entry; they see the
		// error through it. Later Acquires rebuild.
		if p.entries[key] == current {
			delete(p.entries, key)
		}
	}
	close(current.ready)
	p.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("scopepool: building %v: %w", key, err)
	}
	p.logger.Debug("scope built", "key", key)
	return &Lease[K, V]{pool: p, key: key, value: value}, nil
}

func (p *Pool[K, V]) await(ctx context.Context, key K, current *entry[V]) (*Lease[K, V], error) {
	select {
	case <-current.ready:
	case <-ctx.Done():
		p.mu.Lock()
		current.refs--
		current.lastUsed = p.clock.Now()
		p.mu.Unlock()
		return nil, ctx.Err()
	}
	if current.err != nil {
		return nil, fmt.Errorf("scopepool: building %v: %w", key, current.err)
	}
	return &Lease[K, V]{pool: p, key: key, value: current.value}, nil
}

func (p *Pool[K, V]) release(key K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.entries[key]; ok && current.refs > 0 {
		current.refs--
		current.lastUsed = p.clock.Now()
	}
}

// Sweep closes every value that has had no lease for IdleTimeout and
// returns how many it evicted.
func (p *Pool[K, V]) Sweep() int {
	now := p.clock.Now()
	type evicted struct {
		key   K
		value V
	}
	var victims []evicted

	p.mu.Lock()
	for key, current := range p.entries {
		select {
		case <-current.ready:
		default:
			continue
		}
		if current.refs == 0 && now.Sub(current.lastUsed) >= p.idleTimeout {
			delete(p.entries, key)
			victims = append(victims, evicted{key: key, value: current.value})
		}
	}
	p.mu.Unlock()

	for _, victim := range victims {
		p.logger.Debug("evicting idle scope", "key", victim.key)
		if p.close != nil {
			p.close(victim.key, victim.value)
		}
	}
	return len(victims)
}

// Run sweeps every half IdleTimeout until ctx is cancelled.
func (p *Pool[K, V]) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Len returns the number of pooled values, including ones still being
// built.
func (p *Pool[K, V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close closes every built value regardless of leases. Acquire fails
// afterwards.
func (p *Pool[K, V]) Close() {
	p.mu.Lock()
	p.closed = true
	entries := p.entries
	p.entries = make(map[K]*entry[V])
	p.mu.Unlock()

	for key, current := range entries {
		<-current.ready
		if current.err == nil && p.close != nil {
			p.close(key, current.value)
		}
	}
}
