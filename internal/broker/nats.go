package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const cacheBucket = "CACHE"

// NATSConfig holds connection and retry settings for the NATS broker.
type NATSConfig struct {
	URL  string
	Name string

	// Connection establishment: exponential backoff starting at
	// BackoffInitial, doubling up to BackoffMax, at most ConnectAttempts
	// tries per round. Serve waits RetryAfter between rounds.
	ConnectAttempts int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	RetryAfter      time.Duration

	// OpTimeout bounds every JetStream request.
	OpTimeout time.Duration
	// CacheMaxAge is the CACHE bucket's MaxAge; entries also carry their
	// own expiry.
	CacheMaxAge time.Duration
}

func (c *NATSConfig) withDefaults() {
	if c.Name == "" {
		c.Name = "presence-backend"
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 5
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 30 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 2 * time.Second
	}
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = 10 * time.Minute
	}
}

// cacheEnvelope is the stored form of a cache entry.
type cacheEnvelope struct {
	ExpiresAt int64  `json:"expiresAt"` // unix millis, 0 = none
	Payload   []byte `json:"payload"`
}

type natsSub struct {
	channel string
	mb      *mailbox
	sub     *nats.Subscription
}

// NATS is a Broker backed by a NATS server with JetStream enabled.
//
// Channels map to core NATS subjects. The cache lives in the CACHE KV
// bucket, and each score set in its own SCORES_<set> bucket with one key
// per member.
type NATS struct {
	cfg NATSConfig
	log zerolog.Logger
	cb  *gobreaker.CircuitBreaker[any]

	mu    sync.Mutex
	nc    *nats.Conn
	js    nats.JetStreamContext
	cache nats.KeyValue
	sets  map[string]nats.KeyValue
	subs  map[*natsSub]struct{}

	connected atomic.Bool
	closed    atomic.Bool
	// lost carries connections nats.go gave up on; Serve only acts on the
	// one that is still current.
	lost chan *nats.Conn
}

// NewNATS builds an unconnected broker. Call Connect or run Serve.
func NewNATS(cfg NATSConfig, logger zerolog.Logger) *NATS {
	cfg.withDefaults()
	b := &NATS{
		cfg:  cfg,
		log:  logger.With().Str("component", "broker").Str("backend", "nats").Logger(),
		sets: make(map[string]nats.KeyValue),
		subs: make(map[*natsSub]struct{}),
		lost: make(chan *nats.Conn, 1),
	}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "broker-nats",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return b
}

func (b *NATS) IsConnected() bool { return b.connected.Load() }

// Connect runs one bounded connection round. On success the KV buckets are
// bound and every pending subscription is attached.
func (b *NATS) Connect(ctx context.Context) error {
	if b.closed.Load() {
		return errors.New("broker closed")
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.cfg.BackoffInitial
	exp.Multiplier = 2
	exp.MaxInterval = b.cfg.BackoffMax
	exp.RandomizationFactor = 0

	nc, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		return nats.Connect(b.cfg.URL,
			nats.Name(b.cfg.Name),
			nats.Timeout(b.cfg.OpTimeout),
			nats.MaxReconnects(b.cfg.ConnectAttempts),
			nats.ReconnectWait(b.cfg.BackoffMax),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				b.connected.Store(false)
				b.log.Warn().Err(err).Msg("nats disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				b.connected.Store(true)
				b.log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
			}),
			nats.ClosedHandler(func(closed *nats.Conn) {
				if b.closed.Load() || !b.isCurrent(closed) {
					return
				}
				b.connected.Store(false)
				b.log.Warn().Msg("nats connection closed")
				select {
				case b.lost <- closed:
				default:
				}
			}),
		)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(b.cfg.ConnectAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.log.Debug().Err(err).Dur("retry_in", next).Msg("nats connect failed")
		}),
	)
	if err != nil {
		b.connected.Store(false)
		return fmt.Errorf("connect %s: %w", b.cfg.URL, err)
	}

	js, err := nc.JetStream(nats.MaxWait(b.cfg.OpTimeout))
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream: %w", err)
	}
	cache, err := bindKV(js, &nats.KeyValueConfig{
		Bucket:  cacheBucket,
		History: 1,
		TTL:     b.cfg.CacheMaxAge,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("bind %s bucket: %w", cacheBucket, err)
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		nc.Close()
		return errors.New("broker closed")
	}
	// A signal left over from an earlier connection must not tear down
	// this one.
	select {
	case <-b.lost:
	default:
	}
	b.nc, b.js, b.cache = nc, js, cache
	b.sets = make(map[string]nats.KeyValue)
	for s := range b.subs {
		b.attachLocked(s)
	}
	b.mu.Unlock()

	b.connected.Store(true)
	b.log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")
	return nil
}

// Serve keeps the broker connected until ctx ends: bounded connect rounds
// separated by RetryAfter, and a fresh round whenever nats.go gives up on
// a connection. It implements suture.Service.
func (b *NATS) Serve(ctx context.Context) error {
	for {
		if b.closed.Load() {
			<-ctx.Done()
			return ctx.Err()
		}
		if !b.hasConn() {
			if err := b.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.log.Warn().Err(err).Dur("retry_after", b.cfg.RetryAfter).Msg("broker unavailable; realtime features disabled")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(b.cfg.RetryAfter):
				}
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case nc := <-b.lost:
			b.dropConn(nc)
		}
	}
}

func (b *NATS) hasConn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nc != nil && !b.nc.IsClosed()
}

func (b *NATS) isCurrent(nc *nats.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nc == nc
}

// dropConn forgets nc if it is still the current connection, releasing its
// subscriptions so the next Connect attaches each one exactly once.
func (b *NATS) dropConn(nc *nats.Conn) {
	b.mu.Lock()
	if b.nc != nc {
		b.mu.Unlock()
		return
	}
	b.nc, b.js, b.cache = nil, nil, nil
	b.sets = make(map[string]nats.KeyValue)
	var stale []*nats.Subscription
	for s := range b.subs {
		if s.sub != nil {
			stale = append(stale, s.sub)
			s.sub = nil
		}
	}
	b.mu.Unlock()

	for _, sub := range stale {
		_ = sub.Unsubscribe()
	}
	nc.Close()
}

// Close releases every subscription and the connection.
func (b *NATS) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.connected.Store(false)
	b.mu.Lock()
	nc := b.nc
	subs := b.subs
	b.subs = make(map[*natsSub]struct{})
	b.nc, b.js, b.cache = nil, nil, nil
	b.mu.Unlock()

	for s := range subs {
		s.mb.close()
	}
	if nc != nil {
		nc.Close()
	}
	return nil
}

func (b *NATS) Publish(ctx context.Context, channel string, payload []byte) bool {
	_, ok := b.exec(ctx, "publish", func(nc *nats.Conn, _ nats.JetStreamContext) (any, error) {
		return nil, nc.Publish(channel, payload)
	})
	return ok
}

func (b *NATS) Subscribe(ctx context.Context, channel string) <-chan Message {
	s := &natsSub{channel: channel, mb: newMailbox()}
	if b.closed.Load() {
		s.mb.close()
		close(s.mb.out)
		return s.mb.out
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	if b.nc != nil {
		b.attachLocked(s)
	}
	b.mu.Unlock()

	go func() {
		s.mb.run(ctx)
		b.mu.Lock()
		delete(b.subs, s)
		sub := s.sub
		s.sub = nil
		b.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()
	return s.mb.out
}

// attachLocked subscribes s on the current connection. b.mu must be held.
func (b *NATS) attachLocked(s *natsSub) {
	if s.sub != nil || b.nc == nil {
		return
	}
	mb := s.mb
	sub, err := b.nc.Subscribe(s.channel, func(m *nats.Msg) {
		mb.push(Message{Channel: m.Subject, Payload: m.Data})
	})
	if err != nil {
		b.log.Warn().Err(err).Str("channel", s.channel).Msg("subscribe failed")
		return
	}
	s.sub = sub
}

func (b *NATS) CacheGet(ctx context.Context, key string) ([]byte, bool) {
	v, ok := b.exec(ctx, "cache_get", func(_ *nats.Conn, _ nats.JetStreamContext) (any, error) {
		kv := b.cacheKV()
		if kv == nil {
			return nil, nats.ErrConnectionClosed
		}
		k := encodeKey(key)
		e, err := kv.Get(k)
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var env cacheEnvelope
		if err := json.Unmarshal(e.Value(), &env); err != nil {
			// Unreadable envelope: treat as absent.
			_ = kv.Delete(k)
			return nil, nil
		}
		if env.ExpiresAt > 0 && time.Now().UnixMilli() >= env.ExpiresAt {
			_ = kv.Delete(k, nats.LastRevision(e.Revision()))
			return nil, nil
		}
		return env.Payload, nil
	})
	if !ok || v == nil {
		return nil, false
	}
	return v.([]byte), true
}

func (b *NATS) CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) bool {
	env := cacheEnvelope{Payload: payload}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return false
	}
	_, ok := b.exec(ctx, "cache_set", func(_ *nats.Conn, _ nats.JetStreamContext) (any, error) {
		kv := b.cacheKV()
		if kv == nil {
			return nil, nats.ErrConnectionClosed
		}
		_, err := kv.Put(encodeKey(key), raw)
		return nil, err
	})
	return ok
}

func (b *NATS) CacheDelete(ctx context.Context, key string) bool {
	_, ok := b.exec(ctx, "cache_delete", func(_ *nats.Conn, _ nats.JetStreamContext) (any, error) {
		kv := b.cacheKV()
		if kv == nil {
			return nil, nats.ErrConnectionClosed
		}
		err := kv.Delete(encodeKey(key))
		if errors.Is(err, nats.ErrKeyNotFound) {
			err = nil
		}
		return nil, err
	})
	return ok
}

// SetScore writes score for member unless the stored score is already
// greater or equal. Concurrent writers are serialized with a
// compare-and-swap on the key revision.
func (b *NATS) SetScore(ctx context.Context, set, member string, score float64) bool {
	_, ok := b.exec(ctx, "set_score", func(_ *nats.Conn, js nats.JetStreamContext) (any, error) {
		kv, err := b.setKV(js, set)
		if err != nil {
			return nil, err
		}
		k := encodeKey(member)
		val := []byte(strconv.FormatFloat(score, 'f', -1, 64))
		for attempt := 0; attempt < 5; attempt++ {
			e, err := kv.Get(k)
			if errors.Is(err, nats.ErrKeyNotFound) {
				if _, err = kv.Create(k, val); err == nil {
					return nil, nil
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			if cur, perr := strconv.ParseFloat(string(e.Value()), 64); perr == nil && cur >= score {
				return nil, nil
			}
			if _, err = kv.Update(k, val, e.Revision()); err == nil {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("set score %s/%s: too much contention", set, member)
	})
	return ok
}

func (b *NATS) RemoveMember(ctx context.Context, set, member string) bool {
	_, ok := b.exec(ctx, "remove_member", func(_ *nats.Conn, js nats.JetStreamContext) (any, error) {
		kv, err := b.setKV(js, set)
		if err != nil {
			return nil, err
		}
		err = kv.Delete(encodeKey(member))
		if errors.Is(err, nats.ErrKeyNotFound) {
			err = nil
		}
		return nil, err
	})
	return ok
}

// PruneBelow deletes members with score <= cutoff. Each delete is
// conditional on the revision read, so a concurrent heartbeat wins.
func (b *NATS) PruneBelow(ctx context.Context, set string, cutoff float64) bool {
	_, ok := b.exec(ctx, "prune", func(_ *nats.Conn, js nats.JetStreamContext) (any, error) {
		kv, err := b.setKV(js, set)
		if err != nil {
			return nil, err
		}
		keys, err := kv.Keys()
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			e, err := kv.Get(k)
			if err != nil {
				continue
			}
			score, perr := strconv.ParseFloat(string(e.Value()), 64)
			if perr != nil || score <= cutoff {
				_ = kv.Delete(k, nats.LastRevision(e.Revision()))
			}
		}
		return nil, nil
	})
	return ok
}

func (b *NATS) Members(ctx context.Context, set string) ([]string, bool) {
	v, ok := b.exec(ctx, "members", func(_ *nats.Conn, js nats.JetStreamContext) (any, error) {
		kv, err := b.setKV(js, set)
		if err != nil {
			return nil, err
		}
		keys, err := kv.Keys()
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []string{}, nil
		}
		if err != nil {
			return nil, err
		}
		scored := make([]scoredMember, 0, len(keys))
		for _, k := range keys {
			e, err := kv.Get(k)
			if err != nil {
				continue
			}
			member, ok := decodeKey(k)
			score, perr := strconv.ParseFloat(string(e.Value()), 64)
			if !ok || perr != nil {
				continue
			}
			scored = append(scored, scoredMember{member, score})
		}
		return sortMembers(scored), nil
	})
	if !ok {
		return nil, false
	}
	return v.([]string), true
}

// exec runs fn through the circuit breaker against the live connection and
// records the outcome.
func (b *NATS) exec(ctx context.Context, op string, fn func(*nats.Conn, nats.JetStreamContext) (any, error)) (any, bool) {
	if ctx.Err() != nil {
		observe(op, resultError)
		return nil, false
	}
	b.mu.Lock()
	nc, js := b.nc, b.js
	b.mu.Unlock()
	if nc == nil || !b.connected.Load() {
		observe(op, resultDisconnected)
		return nil, false
	}

	v, err := b.cb.Execute(func() (any, error) { return fn(nc, js) })
	if err != nil {
		result := resultError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = resultRejected
		}
		observe(op, result)
		b.log.Debug().Err(err).Str("op", op).Msg("broker operation failed")
		return nil, false
	}
	observe(op, resultOK)
	return v, true
}

func (b *NATS) cacheKV() nats.KeyValue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache
}

// setKV returns the bucket backing set, creating it on first use.
func (b *NATS) setKV(js nats.JetStreamContext, set string) (nats.KeyValue, error) {
	b.mu.Lock()
	kv, ok := b.sets[set]
	b.mu.Unlock()
	if ok {
		return kv, nil
	}
	kv, err := bindKV(js, &nats.KeyValueConfig{
		Bucket:  scoreBucket(set),
		History: 1,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.sets[set] = kv
	b.mu.Unlock()
	return kv, nil
}

// bindKV binds an existing bucket or creates it.
func bindKV(js nats.JetStreamContext, cfg *nats.KeyValueConfig) (nats.KeyValue, error) {
	kv, err := js.KeyValue(cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, err
	}
	kv, err = js.CreateKeyValue(cfg)
	if err != nil {
		// Another process may have created it first.
		if kv2, err2 := js.KeyValue(cfg.Bucket); err2 == nil {
			return kv2, nil
		}
		return nil, err
	}
	return kv, nil
}

var _ Broker = (*NATS)(nil)
