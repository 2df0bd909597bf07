// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/sse"
	"github.com/codervisor/devlog-sub006/lib/testutil"
)

const waitTimeout = 5 * time.Second

var broadcastTestEpoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// recordingConn captures sent frames. A non-nil failWith makes every
// Send fail.
type recordingConn struct {
	frames   chan sse.Frame
	mu       sync.Mutex
	failWith error
}

func newRecordingConn() *recordingConn {
	return &recordingConn{frames: make(chan sse.Frame, 1024)}
}

func (c *recordingConn) Send(frame sse.Frame) error {
	c.mu.Lock()
	failWith := c.failWith
	c.mu.Unlock()
	if failWith != nil {
		return failWith
	}
	c.frames <- frame
	return nil
}

func (c *recordingConn) fail(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

func newTestBroadcaster(t *testing.T, cfg Config) (*Broadcaster, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(broadcastTestEpoch)
	cfg.Clock = fakeClock
	cfg.Logger = slog.Default()
	broadcaster := New(cfg)
	t.Cleanup(broadcaster.Shutdown)
	return broadcaster, fakeClock
}

// serve runs subscription.Serve in the background and returns a
// channel carrying its result.
func serve(ctx context.Context, subscription *Subscription) <-chan error {
	result := make(chan error, 1)
	go func() { result <- subscription.Serve(ctx) }()
	return result
}

func receiveFrame(t *testing.T, conn *recordingConn, msgAndArgs ...any) sse.Frame {
	t.Helper()
	return testutil.RequireReceive(t, conn.frames, waitTimeout, msgAndArgs...)
}

func TestSubscribeSendsConnectedFrame(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newRecordingConn()
	subscription, err := broadcaster.Subscribe(first, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	serve(ctx, subscription)

	frame := receiveFrame(t, first, "connected frame")
	if frame.Event != EventConnected {
		t.Fatalf("first frame = %q, want connected", frame.Event)
	}
	var payload struct {
		Timestamp   time.Time `json:"timestamp"`
		ClientCount int       `json:"clientCount"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decoding connected payload: %v", err)
	}
	if payload.ClientCount != 1 || !payload.Timestamp.Equal(broadcastTestEpoch) {
		t.Errorf("connected payload = %+v", payload)
	}

	second := newRecordingConn()
	other, err := broadcaster.Subscribe(second, Filter{})
	if err != nil {
		t.Fatalf("Subscribe second: %v", err)
	}
	serve(ctx, other)
	frame = receiveFrame(t, second, "second connected frame")
	if !strings.Contains(string(frame.Data), `"clientCount":2`) {
		t.Errorf("second connected payload = %s", frame.Data)
	}
}

func TestBroadcastPreservesOrder(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newRecordingConn()
	subscription, err := broadcaster.Subscribe(conn, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	serve(ctx, subscription)
	receiveFrame(t, conn, "connected frame")

	for i := range 20 {
		broadcaster.Broadcast(EventEvents, []int{i})
	}
	for i := range 20 {
		frame := receiveFrame(t, conn, "frame %d", i)
		if want := fmt.Sprintf("[%d]", i); string(frame.Data) != want {
			t.Fatalf("frame %d data = %s, want %s", i, frame.Data, want)
		}
	}
}

func TestProjectFilter(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newRecordingConn()
	subscription, err := broadcaster.Subscribe(conn, Filter{ProjectID: 1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	serve(ctx, subscription)
	receiveFrame(t, conn, "connected frame")

	broadcaster.BroadcastProject(2, EventEvents, "other project")
	broadcaster.BroadcastProject(1, EventEvents, "own project")
	broadcaster.Broadcast(EventStatsUpdated, "global")

	if frame := receiveFrame(t, conn, "own project"); string(frame.Data) != `"own project"` {
		t.Errorf("first delivered = %s, want own project", frame.Data)
	}
	if frame := receiveFrame(t, conn, "global"); string(frame.Data) != `"global"` {
		t.Errorf("second delivered = %s, want global", frame.Data)
	}
	testutil.RequireNoReceive(t, conn.frames, 50*time.Millisecond, "no further frames")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{})

	conn := newRecordingConn()
	subscription, err := broadcaster.Subscribe(conn, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	result := serve(context.Background(), subscription)

	broadcaster.Unsubscribe(subscription)
	broadcaster.Unsubscribe(subscription)

	if err := testutil.RequireReceive(t, result, waitTimeout, "Serve return"); err != nil {
		t.Errorf("Serve after unsubscribe = %v, want nil", err)
	}
	testutil.RequireClosed(t, subscription.Done(), waitTimeout, "subscription done")
	if count := broadcaster.Count(); count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}

	// Broadcasting to nobody is fine.
	broadcaster.Broadcast(EventEvents, []string{})
}

func TestServeReturnsOnClientDisconnect(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	subscription, err := broadcaster.Subscribe(newRecordingConn(), Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	result := serve(ctx, subscription)
	cancel()

	if err := testutil.RequireReceive(t, result, waitTimeout, "Serve return"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
	if count := broadcaster.Count(); count != 0 {
		t.Errorf("Count = %d after disconnect, want 0", count)
	}
}

func TestWriteFailureRemovesOnlyThatSubscriber(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthy := newRecordingConn()
	healthySubscription, err := broadcaster.Subscribe(healthy, Filter{})
	if err != nil {
		t.Fatalf("Subscribe healthy: %v", err)
	}
	serve(ctx, healthySubscription)
	receiveFrame(t, healthy, "healthy connected")

	broken := newRecordingConn()
	broken.fail(errors.New("broken pipe"))
	brokenSubscription, err := broadcaster.Subscribe(broken, Filter{})
	if err != nil {
		t.Fatalf("Subscribe broken: %v", err)
	}
	result := serve(ctx, brokenSubscription)

	err = testutil.RequireReceive(t, result, waitTimeout, "broken Serve return")
	if !observeerr.IsKind(err, observeerr.KindConnection) {
		t.Fatalf("Serve = %v, want connection error", err)
	}

	broadcaster.Broadcast(EventEvents, "after failure")
	for {
		frame := receiveFrame(t, healthy, "healthy frame")
		if frame.Event == EventEvents {
			break
		}
	}
	if count := broadcaster.Count(); count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestDropOldestOverflow(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{QueueSize: 3})

	conn := newRecordingConn()
	subscription, err := broadcaster.Subscribe(conn, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Not serving yet: the queue fills behind the connected frame,
	// which is never the one dropped.
	for i := range 5 {
		broadcaster.Broadcast(EventEvents, i)
	}
	if dropped := subscription.Dropped(); dropped != 3 {
		t.Errorf("Dropped = %d, want 3", dropped)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serve(ctx, subscription)
	if frame := receiveFrame(t, conn, "connected frame"); frame.Event != EventConnected {
		t.Fatalf("first frame = %+v, want connected", frame)
	}
	for _, want := range []string{"3", "4"} {
		frame := receiveFrame(t, conn, "frame %s", want)
		if string(frame.Data) != want {
			t.Errorf("frame = %s, want %s", frame.Data, want)
		}
	}
}

func TestHeartbeatSkippedWhileFramesPending(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{QueueSize: 2})

	subscription, err := broadcaster.Subscribe(newRecordingConn(), Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	broadcaster.Broadcast(EventEvents, "pending")
	broadcaster.heartbeat(broadcastTestEpoch)

	pending := subscription.drain()
	if len(pending) != 2 || pending[0].Event != EventConnected || pending[1].Event != EventEvents {
		t.Fatalf("queue = %+v, want connected and events only", pending)
	}
	if subscription.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", subscription.Dropped())
	}

	broadcaster.heartbeat(broadcastTestEpoch)
	if idle := subscription.drain(); len(idle) != 1 || !idle[0].IsHeartbeat() {
		t.Errorf("idle queue = %+v, want one heartbeat", idle)
	}
}

func TestDisconnectOverflow(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{QueueSize: 1, Overflow: Disconnect})

	conn := newRecordingConn()
	subscription, err := broadcaster.Subscribe(conn, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	broadcaster.Broadcast(EventEvents, "overflows")
	testutil.RequireClosed(t, subscription.Done(), waitTimeout, "overflowed subscription stopped")

	err = testutil.RequireReceive(t, serve(context.Background(), subscription), waitTimeout, "Serve return")
	if !observeerr.IsKind(err, observeerr.KindConnection) {
		t.Errorf("Serve = %v, want connection error", err)
	}
	if count := broadcaster.Count(); count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}

func TestHeartbeat(t *testing.T) {
	broadcaster, fakeClock := newTestBroadcaster(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broadcaster.Start(ctx)

	conn := newRecordingConn()
	subscription, err := broadcaster.Subscribe(conn, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	serve(ctx, subscription)
	receiveFrame(t, conn, "connected frame")

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(DefaultHeartbeatInterval)

	frame := receiveFrame(t, conn, "heartbeat")
	if !frame.IsHeartbeat() {
		t.Fatalf("frame = %+v, want heartbeat", frame)
	}
	want := fmt.Sprintf("heartbeat %d", broadcastTestEpoch.Add(DefaultHeartbeatInterval).UnixMilli())
	if frame.Comment != want {
		t.Errorf("Comment = %q, want %q", frame.Comment, want)
	}
}

func TestShutdownClosesSubscriptions(t *testing.T) {
	broadcaster, fakeClock := newTestBroadcaster(t, Config{})
	broadcaster.Start(context.Background())

	subscription, err := broadcaster.Subscribe(newRecordingConn(), Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	result := serve(context.Background(), subscription)

	broadcaster.Shutdown()
	if err := testutil.RequireReceive(t, result, waitTimeout, "Serve return"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
	if pending := fakeClock.PendingCount(); pending != 0 {
		t.Errorf("PendingCount = %d after shutdown, want 0", pending)
	}
	if _, err := broadcaster.Subscribe(newRecordingConn(), Filter{}); !errors.Is(err, ErrShutdown) {
		t.Errorf("Subscribe after shutdown = %v, want ErrShutdown", err)
	}
}

func TestConcurrentBroadcastReachesEverySubscriber(t *testing.T) {
	broadcaster, _ := newTestBroadcaster(t, Config{QueueSize: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const subscribers, publishers, perPublisher = 10, 4, 25
	conns := make([]*recordingConn, subscribers)
	for i := range conns {
		conns[i] = newRecordingConn()
		subscription, err := broadcaster.Subscribe(conns[i], Filter{})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		serve(ctx, subscription)
	}

	var wg sync.WaitGroup
	for publisher := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perPublisher {
				broadcaster.Broadcast(EventEvents, publisher*1000+i)
			}
		}()
	}
	wg.Wait()

	for i, conn := range conns {
		received := 0
		for received < publishers*perPublisher {
			frame := receiveFrame(t, conn, "subscriber %d frame %d", i, received)
			if frame.Event == EventEvents {
				received++
			}
		}
	}
}
