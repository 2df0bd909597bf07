// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/sse"
)

// Subscription is one registered connection and its pending frames.
type Subscription struct {
	id          uint64
	broadcaster *Broadcaster
	conn        Conn
	filter      Filter

	mu         sync.Mutex
	queue      []sse.Frame
	overflowed bool

	// wake holds at most one pending signal; Serve drains the whole
	// queue per signal.
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

// ID returns the subscription's registry id.
func (s *Subscription) ID() uint64 { return s.id }

// Dropped returns how many frames were discarded on overflow.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Done is closed when the subscription stops.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) enqueue(frame sse.Frame) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}

	// Pending frames keep the connection alive on their own.
	if frame.IsHeartbeat() && len(s.queue) > 0 {
		s.mu.Unlock()
		return
	}

	if len(s.queue) >= s.broadcaster.queueSize {
		if s.broadcaster.overflow == Disconnect {
			s.overflowed = true
			s.mu.Unlock()
			s.stop()
			return
		}
		// An undelivered connected frame stays at the head.
		oldest := 0
		if s.queue[0].Event == EventConnected && len(s.queue) > 1 {
			oldest = 1
		}
		s.queue = slices.Delete(s.queue, oldest, oldest+1)
		s.dropped.Add(1)
		s.broadcaster.metrics.FrameDropped()
	}
	s.queue = append(s.queue, frame)
	s.mu.Unlock()

	event := frame.Event
	if frame.IsHeartbeat() {
		event = "heartbeat"
	}
	s.broadcaster.metrics.FrameSent(event)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) drain() []sse.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.queue
	s.queue = nil
	return frames
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Serve writes queued frames to the connection in order until ctx is
// cancelled, the subscription is unsubscribed, or a write fails. It
// always unregisters the subscription before returning. Client
// disconnects and unsubscribes return nil; write failures and
// overflow disconnects return a connection error.
func (s *Subscription) Serve(ctx context.Context) error {
	defer s.broadcaster.Unsubscribe(s)

	for {
		for _, frame := range s.drain() {
			if err := s.conn.Send(frame); err != nil {
				return observeerr.Connection(err, "subscription %d: write failed", s.id)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			s.mu.Lock()
			overflowed := s.overflowed
			s.mu.Unlock()
			if overflowed {
				return observeerr.Connection(nil, "subscription %d: queue overflow", s.id)
			}
			return nil
		case <-s.wake:
		}
	}
}
