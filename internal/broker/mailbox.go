package broker

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO between a producer that must never block
// (a broker callback) and a consumer reading from out.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool

	signal chan struct{}
	done   chan struct{}
	out    chan Message
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Message),
	}
}

// push enqueues msg. It reports false once the mailbox is closed.
func (m *mailbox) push(msg Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue = nil
		m.mu.Unlock()
		close(m.done)
	})
}

// run delivers queued messages to out until ctx ends or close is called,
// then closes out. Undelivered messages are discarded.
func (m *mailbox) run(ctx context.Context) {
	defer close(m.out)
	defer m.close()
	for {
		m.mu.Lock()
		var (
			next Message
			have bool
		)
		if len(m.queue) > 0 {
			next, have = m.queue[0], true
			m.queue[0] = Message{}
			m.queue = m.queue[1:]
		}
		m.mu.Unlock()

		if !have {
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case m.out <- next:
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
