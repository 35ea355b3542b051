// Package realtime holds the per-process registry of live client streams
// and fans broker events out to them.
//
// Each Gateway owns its registry exclusively. Cross-process delivery goes
// through the broker: every gateway subscribes to the event channels and
// delivers to the connections it holds itself. Delivery is at-most-once;
// a user with no local connection simply misses the event.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/domain"
)

// Presence is the tracker surface driven by connection lifecycle.
type Presence interface {
	SetOnline(ctx context.Context, userID string)
	SetOffline(ctx context.Context, userID string)
	Heartbeat(ctx context.Context, userID string)
}

// Defaults used when options are not given.
const (
	DefaultHeartbeat = 30 * time.Second
	DefaultBuffer    = 32

	shutdownTimeout = 5 * time.Second
)

// ErrDropped is returned by Stream when the gateway dropped the connection.
var ErrDropped = errors.New("connection dropped")

// Gateway is the connection registry plus dispatcher.
type Gateway struct {
	sub      broker.Subscriber
	presence Presence
	log      zerolog.Logger

	heartbeat time.Duration
	buffer    int

	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}

	// gates serializes presence transitions per user so a registry change
	// and the tracker call it triggers are observed in the same order.
	gatesMu sync.Mutex
	gates   map[string]*userGate
}

type userGate struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHeartbeat sets the keep-alive interval of client streams.
func WithHeartbeat(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.heartbeat = d
		}
	}
}

// WithBuffer sets the per-connection frame buffer.
func WithBuffer(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.buffer = n
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New returns a Gateway reading events from sub and reporting connection
// lifecycle to presence.
func New(sub broker.Subscriber, presence Presence, opts ...Option) *Gateway {
	g := &Gateway{
		sub:       sub,
		presence:  presence,
		log:       log.Logger,
		heartbeat: DefaultHeartbeat,
		buffer:    DefaultBuffer,
		conns:     make(map[string]map[*Conn]struct{}),
		gates:     make(map[string]*userGate),
	}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With().Str("component", "realtime").Logger()
	return g
}

// NewConn returns an unregistered connection sized by the gateway's buffer
// setting.
func (g *Gateway) NewConn(userID string) *Conn {
	return NewConn(userID, g.buffer)
}

// Register adds conn. The user's first connection marks them online; any
// further one only refreshes their presence.
func (g *Gateway) Register(ctx context.Context, conn *Conn) {
	unlock := g.lockUser(conn.UserID)
	defer unlock()

	g.mu.Lock()
	set := g.conns[conn.UserID]
	if set == nil {
		set = make(map[*Conn]struct{})
		g.conns[conn.UserID] = set
	}
	if _, dup := set[conn]; dup {
		g.mu.Unlock()
		return
	}
	set[conn] = struct{}{}
	first := len(set) == 1
	g.mu.Unlock()

	connectionsGauge.Inc()
	g.log.Debug().Str("user_id", conn.UserID).Bool("first", first).Msg("connection registered")
	if first {
		g.presence.SetOnline(ctx, conn.UserID)
	} else {
		g.presence.Heartbeat(ctx, conn.UserID)
	}
}

// Unregister removes conn and closes its frame channel. Removing the
// user's last connection marks them offline. Calling it again for the same
// conn does nothing.
func (g *Gateway) Unregister(ctx context.Context, conn *Conn) {
	unlock := g.lockUser(conn.UserID)
	defer unlock()

	g.mu.Lock()
	set := g.conns[conn.UserID]
	if _, ok := set[conn]; !ok {
		g.mu.Unlock()
		return
	}
	delete(set, conn)
	last := len(set) == 0
	if last {
		delete(g.conns, conn.UserID)
	}
	g.mu.Unlock()

	conn.close()
	connectionsGauge.Dec()
	g.log.Debug().Str("user_id", conn.UserID).Bool("last", last).Msg("connection unregistered")
	if last {
		g.presence.SetOffline(ctx, conn.UserID)
	}
}

// lockUser holds userID's transition gate until the returned func is
// called. Gates are dropped once no caller holds or waits on them.
func (g *Gateway) lockUser(userID string) func() {
	g.gatesMu.Lock()
	gate := g.gates[userID]
	if gate == nil {
		gate = &userGate{}
		g.gates[userID] = gate
	}
	gate.refs++
	g.gatesMu.Unlock()

	gate.mu.Lock()
	return func() {
		gate.mu.Unlock()
		g.gatesMu.Lock()
		gate.refs--
		if gate.refs == 0 {
			delete(g.gates, userID)
		}
		g.gatesMu.Unlock()
	}
}

// ConnCount returns the number of local connections held for userID.
func (g *Gateway) ConnCount(userID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns[userID])
}

// Serve subscribes to the presence and friend-request channels and
// dispatches until ctx ends. On return every held connection is closed,
// which marks their users offline. It implements suture.Service.
func (g *Gateway) Serve(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	presence := g.sub.Subscribe(subCtx, domain.ChannelPresence)
	requests := g.sub.Subscribe(subCtx, domain.ChannelFriendRequests)
	g.log.Info().Msg("gateway serving")

	for {
		select {
		case <-ctx.Done():
			g.closeAll()
			return ctx.Err()
		case msg, ok := <-presence:
			if !ok {
				return g.subscriptionEnded(ctx)
			}
			g.Dispatch(ctx, msg)
		case msg, ok := <-requests:
			if !ok {
				return g.subscriptionEnded(ctx)
			}
			g.Dispatch(ctx, msg)
		}
	}
}

func (g *Gateway) subscriptionEnded(ctx context.Context) error {
	if ctx.Err() != nil {
		g.closeAll()
		return ctx.Err()
	}
	return errors.New("broker subscription ended")
}

// closeAll unregisters every connection with a context detached from the
// (already cancelled) serving context.
func (g *Gateway) closeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g.mu.RLock()
	var all []*Conn
	for _, set := range g.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range all {
		g.Unregister(ctx, c)
	}
	if len(all) > 0 {
		g.log.Info().Int("connections", len(all)).Msg("closed client streams on shutdown")
	}
}

// Dispatch routes one broker message. Friend-request events go to the
// target's connections with the target stripped; presence events go to
// every local connection.
func (g *Gateway) Dispatch(ctx context.Context, msg broker.Message) {
	switch msg.Channel {
	case domain.ChannelPresence:
		var ev domain.PresenceEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.UserID == "" {
			droppedTotal.WithLabelValues(dropMalformed).Inc()
			return
		}
		g.deliver(ctx, g.snapshot(""), Frame{Event: EventPresence, Data: msg.Payload})

	case domain.ChannelFriendRequests:
		var ev domain.FriendRequestEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			droppedTotal.WithLabelValues(dropMalformed).Inc()
			return
		}
		if ev.TargetUserID == "" {
			droppedTotal.WithLabelValues(dropNoTarget).Inc()
			return
		}
		targets := g.snapshot(ev.TargetUserID)
		if len(targets) == 0 {
			droppedTotal.WithLabelValues(dropNoConnection).Inc()
			return
		}
		data, err := json.Marshal(ev.ForClient())
		if err != nil {
			droppedTotal.WithLabelValues(dropMalformed).Inc()
			return
		}
		g.deliver(ctx, targets, Frame{Event: EventFriendRequest, Data: data})

	default:
		droppedTotal.WithLabelValues(dropUnknown).Inc()
	}
}

// snapshot copies the connections of userID, or of everyone when userID
// is empty.
func (g *Gateway) snapshot(userID string) []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Conn
	if userID != "" {
		for c := range g.conns[userID] {
			out = append(out, c)
		}
		return out
	}
	for _, set := range g.conns {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) deliver(ctx context.Context, conns []*Conn, f Frame) {
	for _, c := range conns {
		if c.offer(f) {
			deliveredTotal.WithLabelValues(f.Event).Inc()
			continue
		}
		droppedTotal.WithLabelValues(dropSlowConsumer).Inc()
		g.log.Warn().Str("user_id", c.UserID).Msg("dropping slow client stream")
		g.Unregister(ctx, c)
	}
}

// Stream pumps conn's frames to w until ctx ends, a write fails, or the
// gateway drops conn. Every heartbeat interval it writes a keep-alive
// comment and refreshes the user's presence. w is flushed after each
// write. Stream does not unregister conn.
func (g *Gateway) Stream(ctx context.Context, w Writer, conn *Conn) error {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-conn.Frames():
			if !ok {
				return ErrDropped
			}
			if err := WriteFrame(w, f); err != nil {
				return err
			}
			w.Flush()
		case <-ticker.C:
			if err := WriteComment(w, "ping"); err != nil {
				return err
			}
			w.Flush()
			g.presence.Heartbeat(ctx, conn.UserID)
		}
	}
}
