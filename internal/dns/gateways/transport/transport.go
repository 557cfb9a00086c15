// Package transport provides the packet I/O capability for kdns. Transports
// own sockets and framing only: they deliver raw inbound DNS messages to a
// Handler and send back whatever bytes the handler replies with.
package transport

import (
	"context"
	"net"
)

// ServerTransport defines the interface for DNS server transport implementations.
type ServerTransport interface {
	// Start binds the listener and begins delivering packets to handler.
	Start(ctx context.Context, handler Handler) error

	// Stop closes the listener and releases resources.
	Stop() error

	// Address returns the configured listen address.
	Address() string
}

// Packet is one inbound DNS message.
type Packet struct {
	// Data is the DNS message without any transport framing. It is owned by
	// the handler.
	Data  []byte
	Src   net.Addr
	Proto TransportType
	// Reply sends a DNS message back to Src, adding framing as required.
	// It may be called at most once and from any goroutine.
	Reply func(resp []byte) error
}

// MaxMessage returns the largest response the packet's transport accepts.
func (p Packet) MaxMessage() int {
	if p.Proto == TransportTCP {
		return maxTCPMessage
	}
	return maxUDPMessage
}

// Handler receives inbound packets. Handle must not block.
type Handler interface {
	Handle(pkt Packet)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(pkt Packet)

func (f HandlerFunc) Handle(pkt Packet) { f(pkt) }

// TransportType represents the different types of DNS transport protocols supported.
type TransportType string

const (
	// TransportUDP represents standard DNS over UDP (RFC 1035)
	TransportUDP TransportType = "udp"

	// TransportTCP represents DNS over TCP with 2-byte length framing (RFC 1035 4.2.2)
	TransportTCP TransportType = "tcp"
)

const (
	maxUDPMessage = 512
	maxTCPMessage = 65535
)
