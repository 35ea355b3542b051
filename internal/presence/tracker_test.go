package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTracker(t *testing.T) (*Tracker, *broker.Memory, *fakeClock) {
	t.Helper()
	b := broker.NewMemory()
	t.Cleanup(func() { _ = b.Close() })
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return NewTracker(b, WithClock(clk.Now)), b, clk
}

func nextEvent(t *testing.T, ch <-chan broker.Message) domain.PresenceEvent {
	t.Helper()
	select {
	case m := <-ch:
		var ev domain.PresenceEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no presence event")
	}
	return domain.PresenceEvent{}
}

func TestSetOnline_IdempotentSingleEntry(t *testing.T) {
	tr, b, _ := newTracker(t)
	ctx := context.Background()

	tr.SetOnline(ctx, "alice")
	tr.SetOnline(ctx, "alice")

	members, _ := b.Members(ctx, OnlineSet)
	if len(members) != 1 {
		t.Fatalf("expected one entry, got %v", members)
	}
	if got := tr.GetOnlineUsers(ctx); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("GetOnlineUsers = %v", got)
	}
	if !tr.IsOnline(ctx, "alice") || tr.IsOnline(ctx, "bob") {
		t.Fatalf("IsOnline mismatch")
	}
}

func TestGetOnlineUsers_TTLBoundary(t *testing.T) {
	tr, _, clk := newTracker(t)
	ctx := context.Background()
	now := clk.Now()

	clk.Set(now.Add(-DefaultTTL - time.Second))
	tr.Heartbeat(ctx, "stale")
	clk.Set(now.Add(-DefaultTTL + time.Second))
	tr.Heartbeat(ctx, "fresh")
	clk.Set(now)

	got := tr.GetOnlineUsers(ctx)
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("GetOnlineUsers = %v; want [fresh]", got)
	}
}

func TestHeartbeat_NoEventAndNeverMovesBackwards(t *testing.T) {
	tr, b, clk := newTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := b.Subscribe(ctx, domain.ChannelPresence)

	now := clk.Now()
	tr.Heartbeat(ctx, "alice")
	clk.Set(now.Add(-time.Minute))
	tr.Heartbeat(ctx, "alice")

	if s, _ := b.Score(OnlineSet, "alice"); s != float64(now.UnixMilli()) {
		t.Fatalf("score = %v; want %v", s, now.UnixMilli())
	}
	select {
	case m := <-events:
		t.Fatalf("heartbeat published %s", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetOnlineThenOffline_PublishesInOrder(t *testing.T) {
	tr, b, clk := newTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := b.Subscribe(ctx, domain.ChannelPresence)

	tr.SetOnline(ctx, "alice")
	tr.SetOffline(ctx, "alice")

	on := nextEvent(t, events)
	off := nextEvent(t, events)
	if on.Type != domain.EventUserOnline || on.UserID != "alice" || on.Timestamp != clk.Now().UnixMilli() {
		t.Fatalf("unexpected online event %+v", on)
	}
	if off.Type != domain.EventUserOffline || off.UserID != "alice" {
		t.Fatalf("unexpected offline event %+v", off)
	}
	if got := tr.GetOnlineUsers(ctx); len(got) != 0 {
		t.Fatalf("expected nobody online, got %v", got)
	}
}

func TestTracker_BrokerDownIsNoop(t *testing.T) {
	tr, b, _ := newTracker(t)
	ctx := context.Background()
	b.SetConnected(false)

	tr.SetOnline(ctx, "alice")
	tr.Heartbeat(ctx, "alice")
	tr.SetOffline(ctx, "alice")
	if got := tr.GetOnlineUsers(ctx); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}

	b.SetConnected(true)
	if got := tr.GetOnlineUsers(ctx); len(got) != 0 {
		t.Fatalf("no writes should have landed, got %v", got)
	}
}

func TestWithTTL(t *testing.T) {
	b := broker.NewMemory()
	defer b.Close()
	if got := NewTracker(b, WithTTL(time.Minute)).TTL(); got != time.Minute {
		t.Fatalf("TTL = %v", got)
	}
	if got := NewTracker(b, WithTTL(0)).TTL(); got != DefaultTTL {
		t.Fatalf("zero TTL must keep default, got %v", got)
	}
}
