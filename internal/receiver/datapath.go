package receiver

import (
	"net"

	"github.com/MrPotato53/CS640Assignment4/internal/observability"
	"github.com/MrPotato53/CS640Assignment4/internal/wire"
)

// handleIncoming dispatches a decoded, validated packet by the receiver's
// current phase. Callers hold r.mu.
func (r *Receiver) handleIncoming(from net.Addr, pkt wire.Packet) {
	switch r.phase {
	case phaseListen:
		r.handleListen(from, pkt)
	case phaseEstablished:
		r.handleEstablished(from, pkt)
	case phaseClosing:
		r.handleClosing(from, pkt)
	}
}

// handleListen accepts only a bare SYN (ACK clear); every other packet is
// ignored.
func (r *Receiver) handleListen(from net.Addr, pkt wire.Packet) {
	if !pkt.SYN() || pkt.ACK() {
		return
	}

	r.peerAddr = from
	r.peerKnown = true

	r.sendSeq = 0
	ack := pkt.Sequence + 1
	r.armControlLocked(r.sendSeq, wire.FlagSYN|wire.FlagACK, ack, pkt.Timestamp)

	r.expectedSeq = ack
	r.phase = phaseEstablished
}

// handleEstablished implements the ESTABLISHED transition table: source
// validation, FIN handling, and cumulative-ACK reassembly.
func (r *Receiver) handleEstablished(from net.Addr, pkt wire.Packet) {
	if r.peerKnown && from.String() != r.peerAddr.String() {
		return
	}
	r.ackControlLocked(pkt.Acknowledgement)

	if pkt.FIN() {
		ack := pkt.Sequence + 1
		r.sendSeq = 1
		r.armControlLocked(r.sendSeq, wire.FlagFIN|wire.FlagACK, ack, pkt.Timestamp)
		if closer, ok := r.file.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				r.log.Error("receiver: closing output file", observability.Err(err))
			}
		}
		r.phase = phaseClosing
		return
	}

	if len(pkt.Payload) == 0 {
		return
	}
	r.handleData(pkt)
}

// handleClosing awaits the sender's final ACK while still answering a
// retransmitted FIN with the same FIN+ACK (idempotent: the sender resends
// FIN on timeout if our FIN+ACK never arrived).
func (r *Receiver) handleClosing(from net.Addr, pkt wire.Packet) {
	if r.peerKnown && from.String() != r.peerAddr.String() {
		return
	}

	if pkt.FIN() {
		if entry, ok := r.control[r.sendSeq]; ok {
			entry.echoTimestamp = pkt.Timestamp
			r.sendControlLocked(r.sendSeq, entry)
		}
		return
	}

	r.ackControlLocked(pkt.Acknowledgement)
	if _, stillPending := r.control[r.sendSeq]; !stillPending {
		r.phase = phaseClosed
	}
}

// handleData applies the in-window / head-of-line / out-of-order rules,
// draining the reassembly buffer whenever the head advances.
func (r *Receiver) handleData(pkt wire.Packet) {
	windowBytes := uint32(r.cfg.Window * r.cfg.MTU)

	switch {
	case pkt.Sequence < r.expectedSeq || pkt.Sequence >= r.expectedSeq+windowBytes:
		r.sendAckLocked(r.expectedSeq, pkt.Timestamp)

	case pkt.Sequence == r.expectedSeq:
		r.writeInOrder(pkt.Payload)
		for {
			buffered, ok := r.reassembly[r.expectedSeq]
			if !ok {
				break
			}
			delete(r.reassembly, r.expectedSeq)
			r.writeInOrder(buffered)
		}
		r.sendAckLocked(r.expectedSeq, pkt.Timestamp)

	default:
		r.reassembly[pkt.Sequence] = pkt.Payload
		r.stats.IncOutOfOrder()
		r.sendAckLocked(r.expectedSeq, pkt.Timestamp)
	}
}

func (r *Receiver) writeInOrder(payload []byte) {
	if _, err := r.file.Write(payload); err != nil {
		r.log.Error("receiver: writing output file", observability.Err(err))
	}
	r.expectedSeq += uint32(len(payload))
}

// sendAckLocked emits a bare cumulative ACK, echoing the triggering
// packet's timestamp verbatim. Bare ACKs are never retransmitted; only
// SYN+ACK and FIN+ACK carry the control-retransmission discipline.
func (r *Receiver) sendAckLocked(ack uint32, echoTimestamp int64) {
	r.sendPacket(r.sendSeq, wire.FlagACK, ack, echoTimestamp, nil)
}

// armControlLocked installs a SYN+ACK or FIN+ACK into the control-segment
// retransmission set and sends it for the first time.
func (r *Receiver) armControlLocked(seq, flags, ack uint32, echoTimestamp int64) {
	entry := &controlEntry{flags: flags, ack: ack, echoTimestamp: echoTimestamp}
	r.control[seq] = entry
	r.tq.Schedule(seq, r.clk.Now()+int64(controlRTO))
	r.sendControlLocked(seq, entry)
}

// sendControlLocked (re)sends a control segment from its stored entry.
func (r *Receiver) sendControlLocked(seq uint32, entry *controlEntry) {
	r.sendPacket(seq, entry.flags, entry.ack, entry.echoTimestamp, nil)
}

// ackControlLocked cancels any outstanding control segment (SYN+ACK or
// FIN+ACK) whose sequence is covered by an incoming acknowledgement.
func (r *Receiver) ackControlLocked(ackValue uint32) {
	for seq := range r.control {
		if ackValue > seq {
			delete(r.control, seq)
			r.tq.Cancel(seq)
		}
	}
}

// checkControlTimers retransmits any control segment whose deadline has
// elapsed, failing the connection on the 16th exhausted retry exactly like
// the sender's data-path exhaustion rule.
func (r *Receiver) checkControlTimers() {
	now := r.clk.Now()
	for _, seq := range r.tq.Expired(now) {
		entry, ok := r.control[seq]
		if !ok {
			continue
		}
		if entry.retries >= maxRetries {
			r.failLocked(errTooManyRetries(seq))
			return
		}
		entry.retries++
		r.sendControlLocked(seq, entry)
		r.tq.Schedule(seq, now+int64(controlRTO))
	}
}

// failLocked marks the connection failed exactly once, closing the file
// exactly as a sender-side hard failure would: logged, no panic, no
// truncation guarantee beyond what was already written.
func (r *Receiver) failLocked(err error) {
	if r.failed != nil {
		return
	}
	r.failed = err
	r.phase = phaseFailed
	r.log.Error("receiver connection failed", observability.Err(err))
	if closer, ok := r.file.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// sendPacket encodes and writes one datagram, updating counters and the
// observability record.
func (r *Receiver) sendPacket(seq, flags, ack uint32, ts int64, payload []byte) {
	pkt := wire.Packet{Sequence: seq, Acknowledgement: ack, Timestamp: ts, Flags: flags, Payload: payload}
	buf := wire.Encode(pkt)

	dest := r.peerAddr
	if _, err := r.conn.WriteTo(buf, dest); err != nil {
		r.log.Error("receiver: transport write error", observability.Err(err))
		return
	}
	r.recordEvent(observability.Sent, pkt)
}
