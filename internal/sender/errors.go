package sender

import "fmt"

// errTooManyRetries reports retransmission exhaustion for one sequence:
// log, mark failed, tear down.
func errTooManyRetries(seq uint32) error {
	return fmt.Errorf("sender: sequence %d exceeded %d retransmissions", seq, maxRetries)
}
