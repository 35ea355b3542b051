// Package presence tracks which users are online.
//
// Presence is recency-based: each user is a member of the "online_users"
// score set scored by the last time they were seen (epoch millis). Members
// older than the TTL are pruned lazily on read, so a client that vanishes
// without a clean disconnect drops out of the set after at most one TTL.
package presence

import (
	"context"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/domain"
)

// OnlineSet is the broker score set holding presence entries.
const OnlineSet = "online_users"

// DefaultTTL is how long an entry stays online without a heartbeat.
const DefaultTTL = 5 * time.Minute

// Store is the broker surface the tracker needs.
type Store interface {
	broker.Publisher
	broker.ScoreSet
}

// Tracker maintains the shared online-user set. It holds no state of its
// own; several processes can use trackers over the same broker.
type Tracker struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// NewTracker returns a Tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   log.Logger,
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With().Str("component", "presence").Logger()
	return t
}

// TTL returns the configured staleness window.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// SetOnline records userID as seen now and announces it on the presence
// channel. Repeated calls keep a single entry.
func (t *Tracker) SetOnline(ctx context.Context, userID string) {
	now := t.now()
	if !t.store.SetScore(ctx, OnlineSet, userID, score(now)) {
		t.log.Debug().Str("user_id", userID).Msg("set online: broker unavailable")
	}
	t.publish(ctx, domain.EventUserOnline, userID, now)
}

// SetOffline removes userID and announces it.
func (t *Tracker) SetOffline(ctx context.Context, userID string) {
	now := t.now()
	if !t.store.RemoveMember(ctx, OnlineSet, userID) {
		t.log.Debug().Str("user_id", userID).Msg("set offline: broker unavailable")
	}
	t.publish(ctx, domain.EventUserOffline, userID, now)
}

// Heartbeat refreshes userID's score without publishing anything.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) {
	if !t.store.SetScore(ctx, OnlineSet, userID, score(t.now())) {
		t.log.Debug().Str("user_id", userID).Msg("heartbeat: broker unavailable")
	}
}

// GetOnlineUsers prunes entries last seen at or before now-TTL and returns
// the remaining ids sorted. The result is empty, never nil, when the
// broker is unavailable.
func (t *Tracker) GetOnlineUsers(ctx context.Context) []string {
	cutoff := score(t.now().Add(-t.ttl))
	if !t.store.PruneBelow(ctx, OnlineSet, cutoff) {
		t.log.Debug().Msg("online users: prune failed")
		return []string{}
	}
	ids, ok := t.store.Members(ctx, OnlineSet)
	if !ok {
		t.log.Debug().Msg("online users: broker unavailable")
		return []string{}
	}
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}

// IsOnline reports whether userID is in the pruned online set.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	for _, id := range t.GetOnlineUsers(ctx) {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Tracker) publish(ctx context.Context, typ domain.EventType, userID string, at time.Time) {
	payload, err := json.Marshal(domain.PresenceEvent{Type: typ, UserID: userID, Timestamp: at.UnixMilli()})
	if err != nil {
		t.log.Error().Err(err).Msg("encode presence event")
		return
	}
	if !t.store.Publish(ctx, domain.ChannelPresence, payload) {
		t.log.Debug().Str("user_id", userID).Str("event", string(typ)).Msg("presence event not published")
	}
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }
