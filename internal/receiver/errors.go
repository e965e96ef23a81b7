package receiver

import "fmt"

// errTooManyRetries reports retransmission exhaustion for one control
// segment (SYN+ACK or FIN+ACK): the receiver-side half of the hard-failure
// path.
func errTooManyRetries(seq uint32) error {
	return fmt.Errorf("receiver: control segment %d exceeded %d retransmissions", seq, maxRetries)
}
