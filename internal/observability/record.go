package observability

import (
	"fmt"
	"io"
	"time"
)

// Direction distinguishes a sent datagram from a received one in an event
// record.
type Direction string

const (
	Sent     Direction = "snd"
	Received Direction = "rcv"
)

// Event is one line of the wire-level record:
//
//	<dir> <t.sss> <S|-> <F|-> <A|-> <D|-> <seq> <len> <ack>
type Event struct {
	Dir             Direction
	Elapsed         time.Duration
	SYN, FIN, ACK   bool
	HasPayload      bool
	Sequence        uint32
	Length          int
	Acknowledgement uint32
}

func flag(set bool, ch byte) byte {
	if set {
		return ch
	}
	return '-'
}

// Recorder writes Events to an underlying writer (stdout in production) in
// the fixed single-line format, independent of the operational zap log.
type Recorder struct {
	w io.Writer
}

// NewRecorder returns a Recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Record writes one event line.
func (r *Recorder) Record(e Event) {
	fmt.Fprintf(r.w, "%s %.3f %c %c %c %c %d %d %d\n",
		e.Dir,
		e.Elapsed.Seconds(),
		flag(e.SYN, 'S'),
		flag(e.FIN, 'F'),
		flag(e.ACK, 'A'),
		flag(e.HasPayload, 'D'),
		e.Sequence,
		e.Length,
		e.Acknowledgement,
	)
}
