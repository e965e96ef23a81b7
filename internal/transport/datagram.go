// Package transport wraps the bounded datagram transport the protocol core
// treats as an external collaborator: something it can send bytes to and
// receive bytes (and a peer address) from. The production implementation is
// a UDP socket; tests substitute LossyConn to inject loss, reordering, and
// corruption without a real network.
package transport

import (
	"net"
	"strconv"
	"time"
)

// Addr identifies a datagram peer. net.Addr satisfies it directly.
type Addr = net.Addr

// Conn is the contract the sender and receiver engines consume. It mirrors
// net.PacketConn narrowly, which keeps a real UDP socket and a test double
// interchangeable.
type Conn interface {
	WriteTo(b []byte, addr Addr) (int, error)
	ReadFrom(b []byte) (int, Addr, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() Addr
	Close() error
}

// DialUDP opens a UDP socket bound to localPort and resolves the remote
// host:port it returns alongside it, for sender-side use where the peer is
// known up front. The socket itself is not connected to that address.
func DialUDP(localPort int, remoteHost string, remotePort int) (Conn, net.Addr, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, nil, err
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, remoteAddr, nil
}

// ListenUDP opens a UDP socket bound to localPort for receiver-side use,
// where the peer address is learned from the first datagram received.
func ListenUDP(localPort int) (Conn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
}
