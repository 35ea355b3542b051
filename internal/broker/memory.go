package broker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type memEntry struct {
	payload   []byte
	expiresAt time.Time // zero: no expiry
}

// Memory is an in-process Broker. Several gateways sharing one Memory
// behave like several processes sharing one backend.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*mailbox]struct{}
	kv     map[string]memEntry
	sets   map[string]map[string]float64
	closed bool

	connected atomic.Bool
	now       func() time.Time
}

// MemoryOption configures a Memory broker.
type MemoryOption func(*Memory)

// WithNow overrides the clock used for cache expiry.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns a connected in-process broker.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		subs: make(map[string]map[*mailbox]struct{}),
		kv:   make(map[string]memEntry),
		sets: make(map[string]map[string]float64),
		now:  time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.connected.Store(true)
	return m
}

// SetConnected toggles availability. While disconnected every operation
// fails softly, exactly like an unreachable backend.
func (m *Memory) SetConnected(v bool) { m.connected.Store(v) }

func (m *Memory) IsConnected() bool {
	if !m.connected.Load() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// up records op as disconnected and reports false when the broker is down.
func (m *Memory) up(op string) bool {
	if m.IsConnected() {
		return true
	}
	observe(op, resultDisconnected)
	return false
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) bool {
	if ctx.Err() != nil || !m.up("publish") {
		return false
	}
	msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	m.mu.RLock()
	for mb := range m.subs[channel] {
		mb.push(msg)
	}
	m.mu.RUnlock()
	observe("publish", resultOK)
	return true
}

func (m *Memory) Subscribe(ctx context.Context, channel string) <-chan Message {
	mb := newMailbox()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		mb.close()
		close(mb.out)
		return mb.out
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*mailbox]struct{})
	}
	m.subs[channel][mb] = struct{}{}
	m.mu.Unlock()

	go func() {
		mb.run(ctx)
		m.mu.Lock()
		delete(m.subs[channel], mb)
		m.mu.Unlock()
	}()
	return mb.out
}

func (m *Memory) CacheGet(ctx context.Context, key string) ([]byte, bool) {
	if ctx.Err() != nil || !m.up("cache_get") {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if ok && !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.kv, key)
		ok = false
	}
	if !ok {
		observe("cache_get", resultMiss)
		return nil, false
	}
	observe("cache_get", resultOK)
	return append([]byte(nil), e.payload...), true
}

// CacheSet stores payload under key. A ttl <= 0 means no expiry.
func (m *Memory) CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) bool {
	if ctx.Err() != nil || !m.up("cache_set") {
		return false
	}
	e := memEntry{payload: append([]byte(nil), payload...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.kv[key] = e
	m.mu.Unlock()
	observe("cache_set", resultOK)
	return true
}

func (m *Memory) CacheDelete(ctx context.Context, key string) bool {
	if ctx.Err() != nil || !m.up("cache_delete") {
		return false
	}
	m.mu.Lock()
	delete(m.kv, key)
	m.mu.Unlock()
	observe("cache_delete", resultOK)
	return true
}

func (m *Memory) SetScore(ctx context.Context, set, member string, score float64) bool {
	if ctx.Err() != nil || !m.up("set_score") {
		return false
	}
	m.mu.Lock()
	s := m.sets[set]
	if s == nil {
		s = make(map[string]float64)
		m.sets[set] = s
	}
	if cur, ok := s[member]; !ok || score > cur {
		s[member] = score
	}
	m.mu.Unlock()
	observe("set_score", resultOK)
	return true
}

func (m *Memory) RemoveMember(ctx context.Context, set, member string) bool {
	if ctx.Err() != nil || !m.up("remove_member") {
		return false
	}
	m.mu.Lock()
	delete(m.sets[set], member)
	m.mu.Unlock()
	observe("remove_member", resultOK)
	return true
}

func (m *Memory) PruneBelow(ctx context.Context, set string, cutoff float64) bool {
	if ctx.Err() != nil || !m.up("prune") {
		return false
	}
	m.mu.Lock()
	for member, score := range m.sets[set] {
		if score <= cutoff {
			delete(m.sets[set], member)
		}
	}
	m.mu.Unlock()
	observe("prune", resultOK)
	return true
}

// Members returns the set ordered by ascending score.
func (m *Memory) Members(ctx context.Context, set string) ([]string, bool) {
	if ctx.Err() != nil || !m.up("members") {
		return nil, false
	}
	m.mu.RLock()
	scored := make([]scoredMember, 0, len(m.sets[set]))
	for member, score := range m.sets[set] {
		scored = append(scored, scoredMember{member, score})
	}
	m.mu.RUnlock()
	observe("members", resultOK)
	return sortMembers(scored), true
}

// Score returns member's stored score.
func (m *Memory) Score(set, member string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sets[set][member]
	return s, ok
}

// Close ends every subscription. The broker stays unusable afterwards.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	var boxes []*mailbox
	for _, subs := range m.subs {
		for mb := range subs {
			boxes = append(boxes, mb)
		}
	}
	m.mu.Unlock()
	for _, mb := range boxes {
		mb.close()
	}
	return nil
}

type scoredMember struct {
	member string
	score  float64
}

func sortMembers(in []scoredMember) []string {
	sort.Slice(in, func(i, j int) bool {
		if in[i].score != in[j].score {
			return in[i].score < in[j].score
		}
		return in[i].member < in[j].member
	})
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.member
	}
	return out
}

var _ Broker = (*Memory)(nil)
