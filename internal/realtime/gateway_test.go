package realtime

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/presence"
)

// ---------- helpers ----------

type call struct{ op, user string }

type fakePresence struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakePresence) record(op, user string) {
	f.mu.Lock()
	f.calls = append(f.calls, call{op, user})
	f.mu.Unlock()
}
func (f *fakePresence) SetOnline(_ context.Context, u string)  { f.record("online", u) }
func (f *fakePresence) SetOffline(_ context.Context, u string) { f.record("offline", u) }
func (f *fakePresence) Heartbeat(_ context.Context, u string)  { f.record("heartbeat", u) }

func (f *fakePresence) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func friendMsg(t *testing.T, ev domain.FriendRequestEvent) broker.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return broker.Message{Channel: domain.ChannelFriendRequests, Payload: b}
}

func presenceMsg(t *testing.T, typ domain.EventType, user string) broker.Message {
	t.Helper()
	b, _ := json.Marshal(domain.PresenceEvent{Type: typ, UserID: user, Timestamp: 1})
	return broker.Message{Channel: domain.ChannelPresence, Payload: b}
}

func expectFrame(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		if !ok {
			t.Fatalf("connection of %s closed", c.UserID)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.UserID)
	}
	return Frame{}
}

func expectNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case f := <-c.Frames():
		t.Fatalf("unexpected frame for %s: %s %s", c.UserID, f.Event, f.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------- registry ----------

func TestRegister_FirstOnlineThenHeartbeat_LastOffline(t *testing.T) {
	p := &fakePresence{}
	g := New(broker.NewMemory(), p)
	ctx := context.Background()

	c1, c2 := g.NewConn("alice"), g.NewConn("alice")
	g.Register(ctx, c1)
	g.Register(ctx, c2)
	g.Register(ctx, c2) // duplicate ignored
	if n := g.ConnCount("alice"); n != 2 {
		t.Fatalf("ConnCount = %d", n)
	}

	g.Unregister(ctx, c1)
	g.Unregister(ctx, c1) // idempotent
	g.Unregister(ctx, c2)
	if n := g.ConnCount("alice"); n != 0 {
		t.Fatalf("ConnCount after unregister = %d", n)
	}

	want := []call{{"online", "alice"}, {"heartbeat", "alice"}, {"offline", "alice"}}
	got := p.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v; want %v", got, want)
		}
	}
	if _, ok := <-c1.Frames(); ok {
		t.Fatalf("unregistered connection must be closed")
	}
}

// lagRemove delays member removal so an offline transition overlaps a
// reconnect.
type lagRemove struct {
	*broker.Memory
	delay time.Duration
}

func (l lagRemove) RemoveMember(ctx context.Context, set, member string) bool {
	time.Sleep(l.delay)
	return l.Memory.RemoveMember(ctx, set, member)
}

func TestRegister_ReconnectDuringOfflineStaysOnline(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	tr := presence.NewTracker(lagRemove{Memory: mem, delay: 50 * time.Millisecond})
	g := New(mem, tr)
	ctx := context.Background()

	events := mem.Subscribe(ctx, domain.ChannelPresence)

	old := g.NewConn("alice")
	g.Register(ctx, old)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Unregister(ctx, old)
	}()
	time.Sleep(10 * time.Millisecond)
	fresh := g.NewConn("alice")
	g.Register(ctx, fresh)
	<-done

	if n := g.ConnCount("alice"); n != 1 {
		t.Fatalf("ConnCount = %d, want 1", n)
	}
	if !tr.IsOnline(ctx, "alice") {
		t.Fatalf("alice holds a live connection but is not online: %v", tr.GetOnlineUsers(ctx))
	}

	var got []domain.EventType
	timeout := time.After(200 * time.Millisecond)
collect:
	for {
		select {
		case m := <-events:
			var ev domain.PresenceEvent
			_ = json.Unmarshal(m.Payload, &ev)
			got = append(got, ev.Type)
		case <-timeout:
			break collect
		}
	}
	if len(got) == 0 || got[len(got)-1] != domain.EventUserOnline {
		t.Fatalf("last presence event must be user_online, got %v", got)
	}
}

func TestRegister_ConcurrentChurnEndsConsistent(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	tr := presence.NewTracker(lagRemove{Memory: mem, delay: time.Millisecond})
	g := New(mem, tr)
	ctx := context.Background()

	keep := g.NewConn("bob")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := g.NewConn("bob")
			g.Register(ctx, c)
			g.Unregister(ctx, c)
		}()
	}
	g.Register(ctx, keep)
	wg.Wait()

	if g.ConnCount("bob") != 1 || !tr.IsOnline(ctx, "bob") {
		t.Fatalf("conns=%d online=%v", g.ConnCount("bob"), tr.GetOnlineUsers(ctx))
	}
	g.Unregister(ctx, keep)
	if tr.IsOnline(ctx, "bob") {
		t.Fatalf("bob online after last connection closed")
	}
	g.gatesMu.Lock()
	n := len(g.gates)
	g.gatesMu.Unlock()
	if n != 0 {
		t.Fatalf("transition gates leaked: %d", n)
	}
}

// ---------- dispatch ----------

func TestDispatch_FriendRequestFansOutToTargetOnly(t *testing.T) {
	g := New(broker.NewMemory(), &fakePresence{})
	ctx := context.Background()
	u1, u2, v := g.NewConn("U"), g.NewConn("U"), g.NewConn("V")
	for _, c := range []*Conn{u1, u2, v} {
		g.Register(ctx, c)
	}

	g.Dispatch(ctx, friendMsg(t, domain.FriendRequestEvent{
		Type:         domain.EventRequestCreated,
		TargetUserID: "U",
		SenderID:     "V",
		SenderName:   "Vee",
		RequestID:    "r1",
	}))

	for _, c := range []*Conn{u1, u2} {
		f := expectFrame(t, c)
		if f.Event != EventFriendRequest {
			t.Fatalf("event = %q", f.Event)
		}
		if bytes.Contains(f.Data, []byte("targetUserId")) {
			t.Fatalf("target not stripped: %s", f.Data)
		}
		var ev domain.FriendRequestEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil || ev.RequestID != "r1" || ev.SenderName != "Vee" {
			t.Fatalf("payload = %s (%v)", f.Data, err)
		}
	}
	expectNoFrame(t, v)
}

func TestDispatch_PresenceBroadcastsToEveryone(t *testing.T) {
	g := New(broker.NewMemory(), &fakePresence{})
	ctx := context.Background()
	a, b := g.NewConn("a"), g.NewConn("b")
	g.Register(ctx, a)
	g.Register(ctx, b)

	msg := presenceMsg(t, domain.EventUserOnline, "c")
	g.Dispatch(ctx, msg)
	for _, c := range []*Conn{a, b} {
		f := expectFrame(t, c)
		if f.Event != EventPresence || !bytes.Equal(f.Data, msg.Payload) {
			t.Fatalf("frame = %s %s", f.Event, f.Data)
		}
	}
}

func TestDispatch_DropsUndeliverable(t *testing.T) {
	g := New(broker.NewMemory(), &fakePresence{})
	ctx := context.Background()
	a := g.NewConn("a")
	g.Register(ctx, a)

	g.Dispatch(ctx, friendMsg(t, domain.FriendRequestEvent{Type: domain.EventRequestCreated, TargetUserID: "nobody", RequestID: "r"}))
	g.Dispatch(ctx, friendMsg(t, domain.FriendRequestEvent{Type: domain.EventRequestCreated, RequestID: "r"}))
	g.Dispatch(ctx, broker.Message{Channel: domain.ChannelFriendRequests, Payload: []byte("{")})
	g.Dispatch(ctx, broker.Message{Channel: domain.ChannelPresence, Payload: []byte("nope")})
	g.Dispatch(ctx, broker.Message{Channel: "other", Payload: []byte("{}")})
	expectNoFrame(t, a)
}

func TestDispatch_FullBufferDropsConnection(t *testing.T) {
	p := &fakePresence{}
	g := New(broker.NewMemory(), p, WithBuffer(1))
	ctx := context.Background()
	slow := g.NewConn("slow")
	g.Register(ctx, slow)

	g.Dispatch(ctx, presenceMsg(t, domain.EventUserOnline, "x"))
	g.Dispatch(ctx, presenceMsg(t, domain.EventUserOnline, "y"))

	if n := g.ConnCount("slow"); n != 0 {
		t.Fatalf("slow connection still registered")
	}
	if f := expectFrame(t, slow); f.Event != EventPresence {
		t.Fatalf("buffered frame lost: %+v", f)
	}
	if _, ok := <-slow.Frames(); ok {
		t.Fatalf("dropped connection must be closed after draining")
	}
	calls := p.snapshot()
	if last := calls[len(calls)-1]; last != (call{"offline", "slow"}) {
		t.Fatalf("drop must mark user offline, calls=%v", calls)
	}
}

// ---------- serve ----------

func TestScenario_ConnectThenDisconnectPublishesOnlineThenOffline(t *testing.T) {
	b := broker.NewMemory()
	defer b.Close()
	tr := presence.NewTracker(b)
	g := New(b, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := b.Subscribe(ctx, domain.ChannelPresence)

	c := g.NewConn("alice")
	g.Register(ctx, c)
	g.Unregister(ctx, c)

	var got []domain.EventType
	timeout := time.After(200 * time.Millisecond)
collect:
	for {
		select {
		case m := <-events:
			var ev domain.PresenceEvent
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.UserID != "alice" {
				t.Fatalf("unexpected user %q", ev.UserID)
			}
			got = append(got, ev.Type)
		case <-timeout:
			break collect
		}
	}
	if len(got) != 2 || got[0] != domain.EventUserOnline || got[1] != domain.EventUserOffline {
		t.Fatalf("events = %v; want [user_online user_offline]", got)
	}
}

func TestServe_GatewaysShareOneBroker(t *testing.T) {
	b := broker.NewMemory()
	defer b.Close()
	tr := presence.NewTracker(b)
	g1, g2 := New(b, tr), New(b, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{}, 2)
	for _, g := range []*Gateway{g1, g2} {
		go func(g *Gateway) { _ = g.Serve(ctx); done <- struct{}{} }(g)
	}
	// Let both gateways subscribe before anything is published.
	time.Sleep(50 * time.Millisecond)

	bob := g2.NewConn("bob")
	g2.Register(ctx, bob)
	f := expectFrame(t, bob) // bob's own online event
	if f.Event != EventPresence {
		t.Fatalf("expected presence frame, got %s", f.Event)
	}

	alice := g1.NewConn("alice")
	g1.Register(ctx, alice)
	f = expectFrame(t, bob)
	if f.Event != EventPresence || !strings.Contains(string(f.Data), `"alice"`) {
		t.Fatalf("bob did not see alice come online: %s %s", f.Event, f.Data)
	}

	payload, _ := json.Marshal(domain.FriendRequestEvent{Type: domain.EventRequestCreated, TargetUserID: "bob", SenderID: "alice", RequestID: "r1"})
	b.Publish(ctx, domain.ChannelFriendRequests, payload)
	f = expectFrame(t, bob)
	if f.Event != EventFriendRequest {
		t.Fatalf("expected friend_request frame, got %s", f.Event)
	}
	// alice only ever sees presence frames.
	drain := time.After(50 * time.Millisecond)
	for draining := true; draining; {
		select {
		case f := <-alice.Frames():
			if f.Event != EventPresence {
				t.Fatalf("alice received %s %s", f.Event, f.Data)
			}
		case <-drain:
			draining = false
		}
	}

	cancel()
	<-done
	<-done
	if g1.ConnCount("alice") != 0 || g2.ConnCount("bob") != 0 {
		t.Fatalf("shutdown must close held connections")
	}
	eventually(t, func() bool { return len(tr.GetOnlineUsers(context.Background())) == 0 }, "users offline after shutdown")
}

func TestServe_ReturnsErrorWhenSubscriptionEnds(t *testing.T) {
	b := broker.NewMemory()
	g := New(b, &fakePresence{})
	errCh := make(chan error, 1)
	go func() { errCh <- g.Serve(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	_ = b.Close()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when broker closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

// ---------- stream ----------

type syncBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
func (s *syncBuffer) Flush() { s.mu.Lock(); s.flushes++; s.mu.Unlock() }
func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestStream_WritesFramesAndKeepAlives(t *testing.T) {
	p := &fakePresence{}
	g := New(broker.NewMemory(), p, WithHeartbeat(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	c := g.NewConn("alice")
	g.Register(ctx, c)

	w := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- g.Stream(ctx, w, c) }()

	g.Dispatch(ctx, presenceMsg(t, domain.EventUserOnline, "bob"))
	eventually(t, func() bool { return strings.Contains(w.String(), "event: presence\n") }, "presence frame written")
	eventually(t, func() bool { return strings.Contains(w.String(), ": ping\n\n") }, "keep-alive written")

	eventually(t, func() bool {
		for _, c := range p.snapshot() {
			if c.op == "heartbeat" {
				return true
			}
		}
		return false
	}, "keep-alive refreshes presence")

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Stream after cancel: %v", err)
	}
}

func TestStream_ReturnsErrDroppedWhenUnregistered(t *testing.T) {
	g := New(broker.NewMemory(), &fakePresence{})
	ctx := context.Background()
	c := g.NewConn("alice")
	g.Register(ctx, c)
	g.Unregister(ctx, c)

	if err := g.Stream(ctx, &syncBuffer{}, c); !errors.Is(err, ErrDropped) {
		t.Fatalf("expected ErrDropped, got %v", err)
	}
}
