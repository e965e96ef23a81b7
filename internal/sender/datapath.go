package sender

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/MrPotato53/CS640Assignment4/internal/observability"
	"github.com/MrPotato53/CS640Assignment4/internal/wire"
)

// networkLoop is the single network-input task: it blocks on the socket,
// decodes each datagram, dispatches it, and on every wakeup (real or
// timeout) drains whatever retransmission deadlines have expired. Per
// design, the timer task is collapsed into this loop via a bounded
// select-with-timeout rather than one goroutine per outstanding packet.
func (s *Sender) networkLoop(ctx context.Context) {
	buf := make([]byte, wire.HeaderSize+s.cfg.MTU)

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		phase := s.st.phase
		s.mu.Unlock()
		if phase == phaseClosed || phase == phaseFailed {
			return
		}

		_ = s.conn.SetReadDeadline(s.nextDeadline())
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.checkTimers()
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("sender: transport read error", observability.Err(err))
			continue
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			// Checksum mismatch or malformed datagram: dropped silently on
			// the sender side.
			continue
		}
		s.recordEvent(observability.Received, pkt)
		s.handleIncoming(pkt)
		s.checkTimers()
	}
}

// nextDeadline bounds the next ReadFrom by the earliest scheduled
// retransmission deadline, falling back to a short poll interval when
// nothing is scheduled so the loop can still notice context cancellation.
func (s *Sender) nextDeadline() time.Time {
	s.mu.Lock()
	deadline, ok := s.tq.NextDeadline()
	now := s.clk.Now()
	s.mu.Unlock()

	if !ok {
		return time.Now().Add(500 * time.Millisecond)
	}
	remaining := time.Duration(deadline - now)
	if remaining < 0 {
		remaining = 0
	}
	return time.Now().Add(remaining)
}

// handleIncoming dispatches a decoded packet by the sender's current phase.
func (s *Sender) handleIncoming(pkt wire.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.st.phase {
	case phaseSynSent:
		if pkt.SYN() && pkt.ACK() {
			s.completeHandshakeLocked(pkt)
		}
	case phaseEstablished, phaseFinSent:
		if pkt.ACK() {
			s.handleAckLocked(pkt)
		}
		if s.st.phase == phaseFinSent && pkt.FIN() {
			s.completeTeardownLocked(pkt)
		}
	}
}

// completeHandshakeLocked finishes the three-way handshake on receipt of
// the peer's SYN+ACK: it cancels the SYN retransmission, learns the peer's
// next expected sequence, and replies with a bare ACK.
func (s *Sender) completeHandshakeLocked(pkt wire.Packet) {
	delete(s.st.unacked, 0)
	s.tq.Cancel(0)

	s.st.peerNextSeq = pkt.Sequence + 1
	// Seed last_ack_value from the post-handshake peer_next_seq, not a zero
	// sentinel, so the first real data ACK is never mistaken for a
	// duplicate of a "prior" ACK that never existed.
	s.st.lastAckValue = s.st.peerNextSeq
	s.st.base = 1
	s.st.nextSeq = 1
	s.st.phase = phaseEstablished

	s.sendPacketLocked(s.st.nextSeq, s.st.peerNextSeq, s.clk.Now(), wire.FlagACK, nil)
	s.cond.Broadcast()
}

// completeTeardownLocked finishes the symmetric shutdown on receipt of the
// peer's FIN+ACK: it records the peer's own FIN sequence and sends the
// final ACK that acknowledges it.
func (s *Sender) completeTeardownLocked(pkt wire.Packet) {
	s.st.peerFinSeq = pkt.Sequence
	ack := s.st.peerFinSeq + 1
	s.sendPacketLocked(s.st.nextSeq, ack, s.clk.Now(), wire.FlagACK, nil)
	s.st.phase = phaseClosed
	s.cond.Broadcast()
}

// handleAckLocked implements the sender's ACK handling: duplicate
// detection with fast retransmit at three duplicates, and cumulative
// advance of base with an RTT sample on genuinely new ACKs.
func (s *Sender) handleAckLocked(pkt wire.Packet) {
	ackValue := pkt.Acknowledgement

	if ackValue == s.st.lastAckValue {
		s.st.dupAckCount++
		s.stats.IncDuplicateAcks()
		if s.st.dupAckCount >= 3 {
			s.fastRetransmitLocked(ackValue)
			s.st.dupAckCount = 0
		}
		return
	}
	if ackValue < s.st.lastAckValue {
		return // stale ACK; last_ack_value only ever moves forward
	}

	s.st.dupAckCount = 0
	var retiredAny, karnSuppressed bool
	for s.st.base < ackValue {
		seqKey := s.st.base
		entry, ok := s.st.unacked[seqKey]
		if !ok {
			s.st.base++
			continue
		}
		retiredAny = true
		if entry.retransmitted {
			karnSuppressed = true
		}
		s.st.base += entry.length
		delete(s.st.unacked, seqKey)
		s.tq.Cancel(seqKey)
	}
	s.st.lastAckValue = ackValue

	if retiredAny && !karnSuppressed {
		sample := time.Duration(s.clk.Now() - pkt.Timestamp)
		if sample > 0 {
			s.est.Observe(sample)
		}
	}
	s.cond.Broadcast()
}

// fastRetransmitLocked resends the segment at ackValue without touching the
// RTO: fast retransmit is a Karn's-rule event, not a timeout, and must not
// perturb the estimator.
func (s *Sender) fastRetransmitLocked(ackValue uint32) {
	entry, ok := s.st.unacked[ackValue]
	if !ok {
		return
	}
	entry.retransmitted = true
	s.sendPacketLocked(ackValue, s.st.peerNextSeq, entry.timestamp, entry.flags, entry.payload)
	s.stats.IncRetransmissions()
}

// checkTimers drains every expired retransmission deadline, retransmitting
// or failing the connection on the 16th exhausted retry.
func (s *Sender) checkTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	for _, seq := range s.tq.Expired(now) {
		entry, ok := s.st.unacked[seq]
		if !ok {
			continue // stale: already evicted by a cumulative ACK
		}
		if entry.retries >= maxRetries {
			s.failLocked(errTooManyRetries(seq))
			return
		}
		entry.retries++
		entry.retransmitted = true
		s.sendPacketLocked(seq, s.st.peerNextSeq, entry.timestamp, entry.flags, entry.payload)
		s.stats.IncRetransmissions()
		s.tq.Schedule(seq, now+int64(s.est.RTO()))
	}
}

// transmitLocked installs a fresh unacked entry and sends it for the first
// time. Callers hold s.mu.
func (s *Sender) transmitLocked(seq, ack uint32, flags uint32, payload []byte) {
	ts := s.clk.Now()
	length := uint32(len(payload))
	if length == 0 {
		length = 1 // SYN/FIN occupy one sequence unit
	}
	s.st.unacked[seq] = &unackedEntry{payload: payload, flags: flags, length: length, timestamp: ts}
	s.tq.Schedule(seq, ts+int64(s.est.RTO()))
	s.sendPacketLocked(seq, ack, ts, flags, payload)
}

// sendPacketLocked encodes and writes one datagram, updating send counters
// and the observability record. Callers hold s.mu.
func (s *Sender) sendPacketLocked(seq, ack uint32, ts int64, flags uint32, payload []byte) {
	pkt := wire.Packet{Sequence: seq, Acknowledgement: ack, Timestamp: ts, Flags: flags, Payload: payload}
	buf := wire.Encode(pkt)

	if _, err := s.conn.WriteTo(buf, s.remoteAddr); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.log.Error("sender: transport write error", observability.Err(err))
		}
		return
	}

	s.stats.IncPacketsSent()
	s.stats.AddBytesSent(len(buf))
	s.recordEvent(observability.Sent, pkt)
}
