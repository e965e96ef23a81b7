// Package receiver implements the receiver-side protocol engine: the
// LISTEN -> ESTABLISHED -> CLOSING -> CLOSED state machine, the out-of-order
// reassembly buffer, and the cumulative ACK generator. The reassembly
// buffer and expected_seq are touched only by the single receive loop, so
// no locking is needed for them; a mutex is still used because the loop
// also retransmits its own SYN+ACK and FIN+ACK on a timer, and that
// bookkeeping is exercised from the same loop's timeout branch.
package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/MrPotato53/CS640Assignment4/internal/clock"
	"github.com/MrPotato53/CS640Assignment4/internal/observability"
	"github.com/MrPotato53/CS640Assignment4/internal/timerqueue"
	"github.com/MrPotato53/CS640Assignment4/internal/transport"
	"github.com/MrPotato53/CS640Assignment4/internal/wire"
)

const (
	phaseListen int32 = iota
	phaseEstablished
	phaseClosing // FIN+ACK sent, awaiting the sender's final ACK
	phaseClosed
	phaseFailed
)

// maxRetries mirrors the sender's retransmission ceiling: the receiver's
// own control segments (SYN+ACK, FIN+ACK) share the same exhaustion rule.
const maxRetries = 16

// controlRTO is the fixed retransmission interval for the receiver's own
// control segments. The receiver never runs a full RTT estimator (that is
// a sender-side concept); it reuses the sender's pre-sample default.
const controlRTO = clock.InitialRTO

// Config carries the parameters the CLI layer supplies to build a
// Receiver: -m, -c, -p in the rdtp command's terms.
type Config struct {
	MTU       int
	Window    int
	LocalPort int
}

// controlEntry is one outstanding SYN+ACK or FIN+ACK the receiver must
// retransmit until the peer's ACK covers it.
type controlEntry struct {
	flags         uint32
	ack           uint32
	echoTimestamp int64
	retries       int
}

// Receiver is the receiver-side protocol engine for one file transfer.
type Receiver struct {
	mu sync.Mutex

	cfg  Config
	conn transport.Conn

	peerAddr  transport.Addr
	peerKnown bool

	clk *clock.Clock
	tq  *timerqueue.Queue

	expectedSeq uint32
	sendSeq     uint32
	reassembly  map[uint32][]byte
	control     map[uint32]*controlEntry

	phase  int32
	failed error

	file io.Writer

	stats observability.ReceiverStats
	rec   *observability.Recorder
	log   *observability.Logger
}

// New listens on a UDP socket per cfg and returns a ready-to-run Receiver.
func New(cfg Config, rec *observability.Recorder, log *observability.Logger) (*Receiver, error) {
	conn, err := transport.ListenUDP(cfg.LocalPort)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "receiver: listen")
	}
	return NewWithConn(cfg, conn, rec, log), nil
}

// NewWithConn builds a Receiver over an already-bound transport.Conn, used
// directly by tests that substitute transport.LossyConn for a real socket.
func NewWithConn(cfg Config, conn transport.Conn, rec *observability.Recorder, log *observability.Logger) *Receiver {
	return &Receiver{
		cfg:        cfg,
		conn:       conn,
		clk:        clock.New(),
		tq:         timerqueue.New(),
		reassembly: make(map[uint32][]byte),
		control:    make(map[uint32]*controlEntry),
		rec:        rec,
		log:        log,
	}
}

// Stats returns a snapshot of the receiver's counters.
func (r *Receiver) Stats() observability.ReceiverStats {
	return r.stats
}

// Run drives the receive loop until the connection closes normally, fails,
// or ctx is cancelled. Every payload byte accepted in order is written to
// file before its ACK is emitted, so an acknowledged byte is durable at the
// moment its ACK leaves.
func (r *Receiver) Run(ctx context.Context, file io.Writer) error {
	r.file = file
	defer r.conn.Close()

	buf := make([]byte, wire.HeaderSize+r.cfg.MTU)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.mu.Lock()
		phase := r.phase
		r.mu.Unlock()
		if phase == phaseClosed {
			return nil
		}
		if phase == phaseFailed {
			return pkgerrors.Wrap(r.failed, "receiver: connection failed")
		}

		_ = r.conn.SetReadDeadline(r.nextDeadline())
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				r.mu.Lock()
				r.checkControlTimers()
				r.mu.Unlock()
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Warn("receiver: transport read error", observability.Err(err))
			continue
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			r.mu.Lock()
			if errors.Is(err, wire.ErrChecksumMismatch) {
				r.stats.IncChecksumErrors()
			}
			r.mu.Unlock()
			continue
		}
		if verr := pkt.Valid(r.cfg.MTU); verr != nil {
			continue // oversize payload or malformed control segment: drop silently
		}

		r.recordEvent(observability.Received, pkt)

		r.mu.Lock()
		r.stats.IncPacketsReceived()
		r.stats.AddBytesReceived(n)
		r.handleIncoming(addr, pkt)
		r.checkControlTimers()
		donePhase := r.phase
		doneErr := r.failed
		r.mu.Unlock()

		if donePhase == phaseClosed {
			return nil
		}
		if donePhase == phaseFailed {
			return pkgerrors.Wrap(doneErr, "receiver: connection failed")
		}
	}
}

// nextDeadline bounds the next ReadFrom by the earliest scheduled control
// retransmission, falling back to a short poll interval otherwise.
func (r *Receiver) nextDeadline() time.Time {
	r.mu.Lock()
	deadline, ok := r.tq.NextDeadline()
	now := r.clk.Now()
	r.mu.Unlock()

	if !ok {
		return time.Now().Add(500 * time.Millisecond)
	}
	remaining := time.Duration(deadline - now)
	if remaining < 0 {
		remaining = 0
	}
	return time.Now().Add(remaining)
}

// recordEvent emits one observability line for a packet the receiver just
// sent or received.
func (r *Receiver) recordEvent(dir observability.Direction, p wire.Packet) {
	if r.rec == nil {
		return
	}
	r.rec.Record(observability.Event{
		Dir:             dir,
		Elapsed:         r.clk.Elapsed(),
		SYN:             p.SYN(),
		FIN:             p.FIN(),
		ACK:             p.ACK(),
		HasPayload:      len(p.Payload) > 0,
		Sequence:        p.Sequence,
		Length:          len(p.Payload),
		Acknowledgement: p.Acknowledgement,
	})
}
