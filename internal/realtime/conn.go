package realtime

import (
	"sync"
	"time"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// Conn is one live client stream. The gateway offers frames into a bounded
// buffer; the HTTP handler drains it. A Conn whose buffer is full is
// dropped instead of slowing the dispatcher.
type Conn struct {
	UserID   string
	OpenedAt time.Time

	mu     sync.Mutex
	out    chan Frame
	closed bool
}

// NewConn returns a Conn for userID holding up to buffer undelivered
// frames.
func NewConn(userID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		UserID:   userID,
		OpenedAt: time.Now(),
		out:      make(chan Frame, buffer),
	}
}

// Frames is closed once the connection is unregistered.
func (c *Conn) Frames() <-chan Frame { return c.out }

// offer enqueues f without blocking. It reports false when the buffer is
// full or the connection is closed.
func (c *Conn) offer(f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}
