package transport

import (
	"fmt"

	"github.com/haukened/kdns/internal/dns/common/log"
)

// NewTransport creates a new transport instance based on the specified type.
func NewTransport(transportType TransportType, addr string, logger log.Logger) (ServerTransport, error) {
	switch transportType {
	case TransportUDP:
		return NewUDPTransport(addr, logger), nil

	case TransportTCP:
		return NewTCPTransport(addr, logger), nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}
