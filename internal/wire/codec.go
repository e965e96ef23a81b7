package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrChecksumMismatch is returned by Decode when the transmitted checksum
// does not match the checksum recomputed over the received bytes.
var ErrChecksumMismatch = errors.New("wire: checksum mismatch")

// Encode serializes p into a freshly allocated buffer: header fields,
// checksum field zeroed, payload, then the checksum is computed over the
// whole buffer and patched in at offset 22.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))

	binary.BigEndian.PutUint32(buf[0:4], p.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], p.Acknowledgement)
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.Timestamp))
	binary.BigEndian.PutUint32(buf[16:20], (uint32(len(p.Payload))<<3)|(p.Flags&0x7))
	// buf[20:22] reserved, left zero.
	// buf[22:24] checksum, left zero until computed below.
	copy(buf[HeaderSize:], p.Payload)

	sum := checksum(buf)
	binary.BigEndian.PutUint16(buf[22:24], sum)

	return buf
}

// Decode parses buf into a Packet, verifying the checksum. The checksum is
// verified by cloning buf with the checksum field zeroed and recomputing the
// same algorithm Encode used.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, fmt.Errorf("wire: short packet: %d bytes", len(buf))
	}

	lengthAndFlags := binary.BigEndian.Uint32(buf[16:20])
	length := lengthAndFlags >> 3
	flags := lengthAndFlags & 0x7

	if int(length) != len(buf)-HeaderSize {
		return Packet{}, fmt.Errorf("wire: declared length %d does not match payload %d", length, len(buf)-HeaderSize)
	}

	transmitted := binary.BigEndian.Uint16(buf[22:24])

	verify := make([]byte, len(buf))
	copy(verify, buf)
	verify[22], verify[23] = 0, 0
	if checksum(verify) != transmitted {
		return Packet{}, ErrChecksumMismatch
	}

	p := Packet{
		Sequence:        binary.BigEndian.Uint32(buf[0:4]),
		Acknowledgement: binary.BigEndian.Uint32(buf[4:8]),
		Timestamp:       int64(binary.BigEndian.Uint64(buf[8:16])),
		Flags:           flags,
	}
	if length > 0 {
		p.Payload = make([]byte, length)
		copy(p.Payload, buf[HeaderSize:])
	}

	return p, nil
}
