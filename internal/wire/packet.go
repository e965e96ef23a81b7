// Package wire implements the fixed-format 24-byte header used to frame
// every datagram exchanged between sender and receiver.
package wire

import "fmt"

// HeaderSize is the number of bytes in a Packet header, excluding payload.
const HeaderSize = 24

// Flag bits packed into the low 3 bits of the length+flags word.
const (
	FlagSYN uint32 = 1 << 2
	FlagFIN uint32 = 1 << 1
	FlagACK uint32 = 1 << 0
)

// Packet is the decoded form of one datagram on the wire.
type Packet struct {
	Sequence        uint32
	Acknowledgement uint32
	Timestamp       int64
	Flags           uint32
	Payload         []byte
}

func (p Packet) SYN() bool { return p.Flags&FlagSYN != 0 }
func (p Packet) FIN() bool { return p.Flags&FlagFIN != 0 }
func (p Packet) ACK() bool { return p.Flags&FlagACK != 0 }

// WithFlags returns a copy of p with the given flags set (in addition to any
// already present).
func (p Packet) WithFlags(flags uint32) Packet {
	p.Flags |= flags
	return p
}

func (p Packet) String() string {
	return fmt.Sprintf("seq=%d ack=%d syn=%v fin=%v ackf=%v len=%d",
		p.Sequence, p.Acknowledgement, p.SYN(), p.FIN(), p.ACK(), len(p.Payload))
}

// Valid checks the header invariants beyond what the wire encoding itself
// enforces: SYN and FIN are mutually exclusive, and a SYN or FIN never
// carries a payload.
func (p Packet) Valid(mtu int) error {
	if p.SYN() && p.FIN() {
		return fmt.Errorf("wire: SYN and FIN both set")
	}
	if (p.SYN() || p.FIN()) && len(p.Payload) != 0 {
		return fmt.Errorf("wire: SYN/FIN packet carries payload")
	}
	if len(p.Payload) > mtu {
		return fmt.Errorf("wire: payload %d exceeds mtu %d", len(p.Payload), mtu)
	}
	return nil
}
