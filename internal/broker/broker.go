// Package broker defines the capability interfaces the realtime subsystem
// consumes from a shared publish/subscribe + key-value backend, together
// with two implementations: NATS (nats.go core pub/sub and JetStream KV)
// and Memory (in-process, for single-node deployments and tests).
//
// Every operation is fail-soft. Writes report success as a bool, reads
// return (value, ok). Nothing here panics, returns an error across the
// contract, or blocks a caller indefinitely when the backend is down.
package broker

import (
	"context"
	"time"
)

// Message is one payload received on a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher publishes payloads to named channels.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) bool
}

// Subscriber hands out per-channel message streams.
//
// The returned channel is unbounded (a slow reader never blocks the
// broker) and is closed when ctx ends or the broker is closed. A stream
// requested while disconnected starts delivering once a connection is
// established.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) <-chan Message
}

// KeyValue is the TTL-bounded key-value surface used by the cache.
type KeyValue interface {
	CacheGet(ctx context.Context, key string) ([]byte, bool)
	CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) bool
	CacheDelete(ctx context.Context, key string) bool
}

// ScoreSet is an ordered set of members keyed by a numeric score.
//
// SetScore never moves a member's score backwards. PruneBelow removes every
// member whose score is <= cutoff.
type ScoreSet interface {
	SetScore(ctx context.Context, set, member string, score float64) bool
	RemoveMember(ctx context.Context, set, member string) bool
	PruneBelow(ctx context.Context, set string, cutoff float64) bool
	Members(ctx context.Context, set string) ([]string, bool)
}

// Broker is the full capability set.
type Broker interface {
	Publisher
	Subscriber
	KeyValue
	ScoreSet
	IsConnected() bool
	Close() error
}
