package transport

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// LossyConn is an in-memory Conn used by tests to simulate a lossy,
// reordering, corrupting link between two endpoints without opening real
// sockets.
type LossyConn struct {
	local Addr
	peer  *LossyConn

	mu       sync.Mutex
	inbox    []datagram
	closed   bool
	wake     chan struct{}
	deadline time.Time
	rng      *rand.Rand
	LossPct  int                    // 0-100, chance a written datagram is dropped before delivery
	Reorder  bool                   // swap every pair of adjacent datagrams in transit
	Mutate   func(b []byte) []byte  // optional per-datagram corruption hook
	pending  *datagram
}

type datagram struct {
	data []byte
	from Addr
}

// NewLossyPair returns two connected LossyConns, a and b, each addressed by
// name. Writes from a arrive (subject to loss/reorder/corruption settings on
// the writer's side) as reads on b, and vice versa.
func NewLossyPair(nameA, nameB string) (a, b *LossyConn) {
	a = &LossyConn{local: lossyAddr(nameA), wake: make(chan struct{}, 1), rng: rand.New(rand.NewSource(1))}
	b = &LossyConn{local: lossyAddr(nameB), wake: make(chan struct{}, 1), rng: rand.New(rand.NewSource(2))}
	a.peer = b
	b.peer = a
	return a, b
}

type lossyAddr string

func (a lossyAddr) Network() string { return "lossy" }
func (a lossyAddr) String() string  { return string(a) }

func (c *LossyConn) LocalAddr() Addr { return c.local }

// WriteTo delivers b to the peer's inbox, unless LossPct drops it. Reorder,
// when enabled, buffers one datagram and swaps it with the next.
func (c *LossyConn) WriteTo(b []byte, _ Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}

	if c.LossPct > 0 && c.rng.Intn(100) < c.LossPct {
		return len(b), nil // dropped silently, as a real lossy link would
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	if c.Mutate != nil {
		cp = c.Mutate(cp)
	}
	dg := datagram{data: cp, from: c.local}

	if c.Reorder {
		if c.pending == nil {
			c.pending = &dg
			return len(b), nil
		}
		first := *c.pending
		c.pending = nil
		c.peer.deliver(dg)
		c.peer.deliver(first)
		return len(b), nil
	}

	c.peer.deliver(dg)
	return len(b), nil
}

func (c *LossyConn) deliver(dg datagram) {
	c.mu.Lock()
	c.inbox = append(c.inbox, dg)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ReadFrom blocks until a datagram is available, the deadline set by
// SetReadDeadline passes, or the connection is closed. With no deadline set
// it waits one short poll interval and then returns a timeout error, so
// tests can't hang forever.
func (c *LossyConn) ReadFrom(b []byte) (int, Addr, error) {
	for {
		c.mu.Lock()
		if len(c.inbox) > 0 {
			dg := c.inbox[0]
			c.inbox = c.inbox[1:]
			c.mu.Unlock()
			n := copy(b, dg.data)
			return n, dg.from, nil
		}
		closed := c.closed
		deadline := c.deadline
		c.mu.Unlock()
		if closed {
			return 0, nil, net.ErrClosed
		}

		wait := 10 * time.Millisecond
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining <= 0 {
				return 0, nil, errTimeout{}
			} else if remaining < wait {
				wait = remaining
			}
		}

		select {
		case <-c.wake:
		case <-time.After(wait):
			if deadline.IsZero() || !time.Now().Before(deadline) {
				return 0, nil, errTimeout{}
			}
		}
	}
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

var _ net.Error = errTimeout{}

func (c *LossyConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

// Close marks the connection closed. A datagram that Reorder is still
// holding back is already in transit, so it is delivered to the peer
// rather than lost.
func (c *LossyConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.pending != nil {
		c.peer.deliver(*c.pending)
		c.pending = nil
	}
	return nil
}
