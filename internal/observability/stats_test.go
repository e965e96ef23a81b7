package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSenderStatsAccumulate(t *testing.T) {
	var s SenderStats
	s.AddBytesSent(100)
	s.IncPacketsSent()
	s.IncRetransmissions()
	s.IncDuplicateAcks()

	var buf bytes.Buffer
	s.WriteSummary(&buf)
	assert.Equal(t, "bytes=100 packets=1 retransmissions=1 duplicate_acks=1\n", buf.String())
}

func TestReceiverStatsAccumulate(t *testing.T) {
	var s ReceiverStats
	s.AddBytesReceived(200)
	s.IncPacketsReceived()
	s.IncOutOfOrder()
	s.IncChecksumErrors()

	var buf bytes.Buffer
	s.WriteSummary(&buf)
	assert.Equal(t, "bytes=200 packets=1 out_of_order=1 checksum_errors=1\n", buf.String())
}
