package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/haukened/kdns/internal/dns/common/log"
)

// UDPTransport implements ServerTransport for standard DNS over UDP (RFC 1035).
type UDPTransport struct {
	addr   string
	conn   *net.UDPConn
	logger log.Logger

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewUDPTransport creates a new UDP transport instance.
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPTransport{
		addr:   addr,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start binds the UDP socket and starts the packet reading loop.
func (t *UDPTransport) Start(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "DNS transport started")

	go t.listenLoop(ctx, handler)

	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}

	close(t.stopCh)

	var closeErr error
	if t.conn != nil {
		closeErr = t.conn.Close()
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "Error closing UDP connection")
		}
	}

	t.running = false
	t.mu.Unlock()
	<-t.done

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   t.addr,
	}, "DNS transport stopped")

	return closeErr
}

// Address returns the configured listen address.
func (t *UDPTransport) Address() string {
	return t.addr
}

// LocalAddr returns the bound address, or nil before Start.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// listenLoop reads datagrams until the socket is closed or ctx ends.
func (t *UDPTransport) listenLoop(ctx context.Context, handler Handler) {
	defer close(t.done)
	buffer := make([]byte, maxUDPMessage)

	go func() {
		select {
		case <-ctx.Done():
			t.logger.Debug(nil, "UDP transport stopping due to context cancellation")
			_ = t.Stop()
		case <-t.stopCh:
		}
	}()

	for {
		n, clientAddr, err := t.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.logger.Warn(map[string]any{
				"error": err.Error(),
			}, "Failed to read UDP packet")
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		t.handlePacket(data, clientAddr, handler)
	}
}

// handlePacket hands one datagram to handler with a reply path bound to the
// client address.
func (t *UDPTransport) handlePacket(data []byte, clientAddr *net.UDPAddr, handler Handler) {
	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(data),
		"raw":    fmt.Sprintf("%x", data),
	}, "Received raw DNS query data")

	conn := t.conn
	handler.Handle(Packet{
		Data:  data,
		Src:   clientAddr,
		Proto: TransportUDP,
		Reply: func(resp []byte) error {
			if _, err := conn.WriteToUDP(resp, clientAddr); err != nil {
				t.logger.Error(map[string]any{
					"client": clientAddr.String(),
					"error":  err.Error(),
				}, "Failed to send DNS response")
				return err
			}
			return nil
		},
	})
}
