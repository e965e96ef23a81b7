// Package sender implements the sender-side protocol engine: the
// INIT -> SYN_SENT -> ESTABLISHED -> FIN_SENT -> CLOSED state machine, the
// sliding send window, the unacked store, and the retransmission controller.
// Shared mutable state (the unacked store, the window cursors, the RTT
// estimator, the duplicate-ACK counter) is guarded by a single mutex rather
// than routing every mutation through channels.
package sender

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/MrPotato53/CS640Assignment4/internal/clock"
	"github.com/MrPotato53/CS640Assignment4/internal/observability"
	"github.com/MrPotato53/CS640Assignment4/internal/ringbuf"
	"github.com/MrPotato53/CS640Assignment4/internal/timerqueue"
	"github.com/MrPotato53/CS640Assignment4/internal/transport"
	"github.com/MrPotato53/CS640Assignment4/internal/wire"
)

const (
	phaseInit int32 = iota
	phaseSynSent
	phaseEstablished
	phaseFinSent
	phaseClosed
	phaseFailed
)

// maxRetries is the retransmission ceiling for any single sequence, data or
// control.
const maxRetries = 16

// Config carries the parameters the CLI layer (or a test) supplies to build
// a Sender: -m, -c, -p, -s, -a in the rdtp command's terms.
type Config struct {
	MTU        int
	Window     int // outstanding packets, not bytes
	LocalPort  int
	RemoteHost string
	RemotePort int
}

// unackedEntry is one outstanding segment: a data chunk, or a control
// segment (SYN/FIN) treated as occupying one sequence unit so base/next_seq
// bookkeeping is uniform across both.
type unackedEntry struct {
	payload       []byte
	flags         uint32
	length        uint32 // len(payload), or 1 for a control segment
	timestamp     int64  // original first-send time; never changes on retransmit
	retries       int
	retransmitted bool // Karn's rule: any RTT sample riding this entry is discarded
}

type engineState struct {
	phase        int32
	base         uint32
	nextSeq      uint32
	peerNextSeq  uint32
	lastAckValue uint32
	dupAckCount  int
	unacked      map[uint32]*unackedEntry
	peerFinSeq   uint32
}

// Sender is the sender-side protocol engine for one file transfer.
type Sender struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg        Config
	conn       transport.Conn
	remoteAddr transport.Addr

	clk *clock.Clock
	est *clock.Estimator
	tq  *timerqueue.Queue

	st engineState

	stats observability.SenderStats
	rec   *observability.Recorder
	log   *observability.Logger

	failed error
}

// New dials a UDP socket per cfg and returns a ready-to-run Sender.
func New(cfg Config, rec *observability.Recorder, log *observability.Logger) (*Sender, error) {
	conn, remoteAddr, err := transport.DialUDP(cfg.LocalPort, cfg.RemoteHost, cfg.RemotePort)
	if err != nil {
		return nil, errors.Wrap(err, "sender: dial")
	}
	return NewWithConn(cfg, conn, remoteAddr, rec, log), nil
}

// NewWithConn builds a Sender over an already-established transport.Conn,
// used directly by tests that substitute transport.LossyConn for a real UDP
// socket.
func NewWithConn(cfg Config, conn transport.Conn, remoteAddr transport.Addr, rec *observability.Recorder, log *observability.Logger) *Sender {
	s := &Sender{
		cfg:        cfg,
		conn:       conn,
		remoteAddr: remoteAddr,
		clk:        clock.New(),
		est:        clock.NewEstimator(),
		tq:         timerqueue.New(),
		st:         engineState{unacked: make(map[uint32]*unackedEntry)},
		rec:        rec,
		log:        log,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Stats returns a snapshot of the sender's counters, consumed by the
// observability formatter's termination block.
func (s *Sender) Stats() observability.SenderStats {
	return s.stats
}

// Run drives the full lifecycle: handshake, then streaming file in MTU-sized
// chunks under window control, then teardown. It blocks until the transfer
// completes, fails (retransmission exhaustion), or ctx is cancelled.
func (s *Sender) Run(ctx context.Context, file io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	netDone := make(chan struct{})
	go func() {
		s.networkLoop(ctx)
		close(netDone)
	}()

	finish := func(err error) error {
		cancel()
		<-netDone
		closeErr := s.conn.Close()
		if err != nil {
			return err
		}
		return closeErr
	}

	if err := s.handshake(ctx); err != nil {
		return finish(err)
	}
	if err := s.stream(ctx, file); err != nil {
		return finish(err)
	}
	if err := s.teardown(ctx); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// handshake sends the initial SYN and blocks until the peer's SYN+ACK
// establishes the connection or the connection fails.
func (s *Sender) handshake(ctx context.Context) error {
	s.mu.Lock()
	s.transmitLocked(0, 0, wire.FlagSYN, nil)
	s.st.phase = phaseSynSent
	for s.st.phase == phaseSynSent && ctx.Err() == nil {
		s.cond.Wait()
	}
	phase := s.st.phase
	err := s.failed
	s.mu.Unlock()

	if phase == phaseFailed {
		return errors.Wrap(err, "sender: handshake failed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// stream reads file in MTU-sized chunks through a staging ring buffer and
// admits each chunk into the send window before transmitting it.
func (s *Sender) stream(ctx context.Context, file io.Reader) error {
	stageSize := s.cfg.MTU * (s.cfg.Window + 4)
	stage := ringbuf.New(stageSize)
	readBuf := make([]byte, stageSize)

	eof := false
	for {
		for !eof && stage.Available() > 0 {
			want := stage.Available()
			if want > len(readBuf) {
				want = len(readBuf)
			}
			n, err := file.Read(readBuf[:want])
			if n > 0 {
				if werr := stage.Write(readBuf[:n]); werr != nil {
					return errors.Wrap(werr, "sender: stage file chunk")
				}
			}
			if err != nil {
				if err == io.EOF {
					eof = true
					break
				}
				return errors.Wrap(err, "sender: read file")
			}
			if n == 0 {
				break
			}
		}

		if stage.Used() == 0 {
			if eof {
				return nil
			}
			continue
		}

		chunkSize := s.cfg.MTU
		if chunkSize > stage.Used() {
			chunkSize = stage.Used()
		}

		s.mu.Lock()
		for len(s.st.unacked) >= s.cfg.Window && s.st.phase != phaseFailed && ctx.Err() == nil {
			s.cond.Wait()
		}
		if s.st.phase == phaseFailed {
			err := s.failed
			s.mu.Unlock()
			return errors.Wrap(err, "sender: stream aborted")
		}
		if ctx.Err() != nil {
			s.mu.Unlock()
			return ctx.Err()
		}

		chunk := stage.Read(chunkSize)
		seq := s.st.nextSeq
		s.transmitLocked(seq, s.st.peerNextSeq, wire.FlagACK, chunk)
		s.st.nextSeq += uint32(len(chunk))
		s.mu.Unlock()
	}
}

// teardown waits for every in-flight byte to be acknowledged, sends the
// FIN, and waits for the peer's FIN+ACK before emitting the final ACK.
func (s *Sender) teardown(ctx context.Context) error {
	s.mu.Lock()
	for s.st.base != s.st.nextSeq && s.st.phase != phaseFailed && ctx.Err() == nil {
		s.cond.Wait()
	}
	if s.st.phase == phaseFailed {
		err := s.failed
		s.mu.Unlock()
		return errors.Wrap(err, "sender: teardown aborted before FIN")
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return ctx.Err()
	}

	finSeq := s.st.nextSeq
	s.transmitLocked(finSeq, s.st.peerNextSeq, wire.FlagFIN|wire.FlagACK, nil)
	s.st.nextSeq++
	s.st.phase = phaseFinSent

	for s.st.phase == phaseFinSent && ctx.Err() == nil {
		s.cond.Wait()
	}
	phase := s.st.phase
	err := s.failed
	s.mu.Unlock()

	if phase == phaseFailed {
		return errors.Wrap(err, "sender: teardown failed waiting for FIN+ACK")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// failLocked marks the connection failed exactly once and wakes every
// waiter; callers must hold s.mu.
func (s *Sender) failLocked(err error) {
	if s.failed != nil {
		return
	}
	s.failed = err
	s.st.phase = phaseFailed
	s.log.Error("sender connection failed", observability.Err(err))
	s.cond.Broadcast()
}

// recordEvent emits one observability line for a packet this sender just
// sent or received.
func (s *Sender) recordEvent(dir observability.Direction, p wire.Packet) {
	if s.rec == nil {
		return
	}
	s.rec.Record(observability.Event{
		Dir:             dir,
		Elapsed:         s.clk.Elapsed(),
		SYN:             p.SYN(),
		FIN:             p.FIN(),
		ACK:             p.ACK(),
		HasPayload:      len(p.Payload) > 0,
		Sequence:        p.Sequence,
		Length:          len(p.Payload),
		Acknowledgement: p.Acknowledgement,
	})
}
