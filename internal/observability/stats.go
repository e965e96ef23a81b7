package observability

import (
	"fmt"
	"io"
	"sync/atomic"
)

// SenderStats holds the running counters reported at the end of a transfer
// on the sender side. All fields are updated with atomic operations so the
// producer, the ACK handler, and the timer-expiry path can each bump them
// without taking the sender's state mutex.
type SenderStats struct {
	BytesSent       uint64
	PacketsSent     uint64
	Retransmissions uint64
	DuplicateAcks   uint64
}

func (s *SenderStats) AddBytesSent(n int)  { atomic.AddUint64(&s.BytesSent, uint64(n)) }
func (s *SenderStats) IncPacketsSent()     { atomic.AddUint64(&s.PacketsSent, 1) }
func (s *SenderStats) IncRetransmissions() { atomic.AddUint64(&s.Retransmissions, 1) }
func (s *SenderStats) IncDuplicateAcks()   { atomic.AddUint64(&s.DuplicateAcks, 1) }

// WriteSummary writes the four-counter termination block for a sender.
func (s *SenderStats) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "bytes=%d packets=%d retransmissions=%d duplicate_acks=%d\n",
		atomic.LoadUint64(&s.BytesSent),
		atomic.LoadUint64(&s.PacketsSent),
		atomic.LoadUint64(&s.Retransmissions),
		atomic.LoadUint64(&s.DuplicateAcks),
	)
}

// ReceiverStats holds the running counters for the receiver side.
type ReceiverStats struct {
	BytesReceived   uint64
	PacketsReceived uint64
	OutOfOrder      uint64
	ChecksumErrors  uint64
}

func (s *ReceiverStats) AddBytesReceived(n int) { atomic.AddUint64(&s.BytesReceived, uint64(n)) }
func (s *ReceiverStats) IncPacketsReceived()    { atomic.AddUint64(&s.PacketsReceived, 1) }
func (s *ReceiverStats) IncOutOfOrder()         { atomic.AddUint64(&s.OutOfOrder, 1) }
func (s *ReceiverStats) IncChecksumErrors()     { atomic.AddUint64(&s.ChecksumErrors, 1) }

// WriteSummary writes the four-counter termination block for a receiver.
func (s *ReceiverStats) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "bytes=%d packets=%d out_of_order=%d checksum_errors=%d\n",
		atomic.LoadUint64(&s.BytesReceived),
		atomic.LoadUint64(&s.PacketsReceived),
		atomic.LoadUint64(&s.OutOfOrder),
		atomic.LoadUint64(&s.ChecksumErrors),
	)
}
