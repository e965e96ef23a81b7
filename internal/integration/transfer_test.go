// Package integration wires a Sender and a Receiver together over a
// transport.LossyConn pair and drives full transfers end to end, the way a
// real rdtp sender/receiver pair would run against each other over a
// network.
package integration

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrPotato53/CS640Assignment4/internal/observability"
	"github.com/MrPotato53/CS640Assignment4/internal/receiver"
	"github.com/MrPotato53/CS640Assignment4/internal/sender"
	"github.com/MrPotato53/CS640Assignment4/internal/transport"
)

type result struct {
	output   []byte
	sendErr  error
	recvErr  error
	sStats   observability.SenderStats
	rStats   observability.ReceiverStats
}

type transferOpts struct {
	configure func(toReceiver, toSender *transport.LossyConn)
}

func runTransfer(t *testing.T, data []byte, mtu, window int, timeout time.Duration, opts transferOpts) result {
	t.Helper()

	toReceiver, toSender := transport.NewLossyPair("sender", "receiver")
	if opts.configure != nil {
		opts.configure(toReceiver, toSender)
	}

	log := observability.New(io.Discard, observability.ErrorLevel)
	rec := observability.NewRecorder(io.Discard)

	s := sender.NewWithConn(sender.Config{MTU: mtu, Window: window}, toReceiver, toSender.LocalAddr(), rec, log)
	r := receiver.NewWithConn(receiver.Config{MTU: mtu, Window: window}, toSender, rec, log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var out bytes.Buffer
	sendDone := make(chan error, 1)
	recvDone := make(chan error, 1)

	go func() { sendDone <- s.Run(ctx, bytes.NewReader(data)) }()
	go func() { recvDone <- r.Run(ctx, &out) }()

	res := result{}
	res.sendErr = <-sendDone
	if res.sendErr != nil {
		// A sender failure only tears down the sender's own socket; cancel
		// the shared context too so a receiver with nothing left to talk
		// to doesn't sit in its poll loop until the outer timeout. On a
		// clean sender exit the receiver is expected to reach phaseClosed
		// on its own from the sender's final ACK, already in flight.
		cancel()
	}
	res.recvErr = <-recvDone
	res.output = out.Bytes()
	res.sStats = s.Stats()
	res.rStats = r.Stats()
	return res
}

// corruptOnce flips a trailing byte the first time it sees a payload-carrying
// datagram whose sequence field equals target, simulating a single in-flight
// checksum corruption of a data segment without disturbing any other segment
// (the sender's payload-less handshake ACK also carries sequence 1).
func corruptOnce(target uint32) func([]byte) []byte {
	done := false
	return func(b []byte) []byte {
		if done || len(b) <= 24 {
			return b
		}
		if binary.BigEndian.Uint32(b[0:4]) != target {
			return b
		}
		done = true
		cp := append([]byte(nil), b...)
		cp[len(cp)-1] ^= 0xFF
		return cp
	}
}

// corruptAlways behaves like corruptOnce but never stops, so the segment at
// target never decodes cleanly no matter how many times it's retransmitted.
func corruptAlways(target uint32) func([]byte) []byte {
	return func(b []byte) []byte {
		if len(b) < 24 || binary.BigEndian.Uint32(b[0:4]) != target {
			return b
		}
		cp := append([]byte(nil), b...)
		cp[len(cp)-1] ^= 0xFF
		return cp
	}
}

func TestCleanTransfer(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 20)

	res := runTransfer(t, data, 64, 8, 5*time.Second, transferOpts{})

	require.NoError(t, res.sendErr)
	require.NoError(t, res.recvErr)
	assert.Equal(t, data, res.output)
	assert.Zero(t, res.sStats.Retransmissions)
	assert.Zero(t, res.sStats.DuplicateAcks)
	assert.Zero(t, res.rStats.OutOfOrder)
	assert.Zero(t, res.rStats.ChecksumErrors)
}

func TestUniformLossStillDeliversEverything(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 80)

	res := runTransfer(t, data, 32, 8, 20*time.Second, transferOpts{
		configure: func(toReceiver, toSender *transport.LossyConn) {
			toReceiver.LossPct = 10
			toSender.LossPct = 10
		},
	})

	require.NoError(t, res.sendErr)
	require.NoError(t, res.recvErr)
	assert.Equal(t, data, res.output)
}

func TestReorderingStillDeliversInOrder(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 40)

	// Reorder is switched on after the SYN (the connection's very first
	// datagram) rather than from byte zero: a link-wide reorder active
	// that early would pair the SYN with its own retransmission and stall
	// the handshake until that retransmission fires.
	sent := 0
	res := runTransfer(t, data, 32, 8, 10*time.Second, transferOpts{
		configure: func(toReceiver, toSender *transport.LossyConn) {
			toReceiver.Mutate = func(b []byte) []byte {
				sent++
				if sent == 2 {
					toReceiver.Reorder = true
				}
				return b
			}
		},
	})

	require.NoError(t, res.sendErr)
	require.NoError(t, res.recvErr)
	assert.Equal(t, data, res.output)
	assert.Greater(t, res.rStats.OutOfOrder, uint64(0))
}

func TestFastRetransmitRecoversASingleLoss(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 640) // 10 chunks at mtu=64, room for 3+ dup acks after seq 1

	res := runTransfer(t, data, 64, 8, 10*time.Second, transferOpts{
		configure: func(toReceiver, toSender *transport.LossyConn) {
			toReceiver.Mutate = corruptOnce(1)
		},
	})

	require.NoError(t, res.sendErr)
	require.NoError(t, res.recvErr)
	assert.Equal(t, data, res.output)
	assert.GreaterOrEqual(t, res.sStats.DuplicateAcks, uint64(3))
	assert.GreaterOrEqual(t, res.sStats.Retransmissions, uint64(1))
}

func TestCorruptedSegmentIsCountedAndRecovered(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 320)

	res := runTransfer(t, data, 64, 8, 10*time.Second, transferOpts{
		configure: func(toReceiver, toSender *transport.LossyConn) {
			toReceiver.Mutate = corruptOnce(1)
		},
	})

	require.NoError(t, res.sendErr)
	require.NoError(t, res.recvErr)
	assert.Equal(t, data, res.output)
	assert.Equal(t, uint64(1), res.rStats.ChecksumErrors)
}

func TestRetryExhaustionFailsTheSender(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out 16 retransmissions of a permanently corrupted segment")
	}

	data := bytes.Repeat([]byte("z"), 320)

	res := runTransfer(t, data, 64, 4, 60*time.Second, transferOpts{
		configure: func(toReceiver, toSender *transport.LossyConn) {
			toReceiver.Mutate = corruptAlways(65) // second chunk at mtu=64; first seeds a quick RTT sample
		},
	})

	assert.Error(t, res.sendErr)
	assert.GreaterOrEqual(t, res.sStats.Retransmissions, uint64(16))
}
