package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/haukened/kdns/internal/dns/common/log"
)

const (
	// DefaultTCPTimeout bounds reading the query and writing the reply on one
	// TCP connection.
	DefaultTCPTimeout = 2 * time.Second

	// DefaultTCPReplyTimeout bounds the wait between reading the query and
	// the handler replying. It covers a forwarded query failing over across
	// several upstreams, each allowed upstream.DefaultTimeout.
	DefaultTCPReplyTimeout = 10 * time.Second
)

var errEmptyMessage = errors.New("zero-length DNS message")

// TCPTransport implements ServerTransport for DNS over TCP. Each connection
// carries one length-prefixed query and at most one reply.
type TCPTransport struct {
	addr     string
	listener net.Listener
	logger   log.Logger
	timeout  time.Duration
	reply    time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTCPTransport creates a new TCP transport instance.
func NewTCPTransport(addr string, logger log.Logger) *TCPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &TCPTransport{
		addr:    addr,
		logger:  logger,
		timeout: DefaultTCPTimeout,
		reply:   DefaultTCPReplyTimeout,
		stopCh:  make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections.
func (t *TCPTransport) Start(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("TCP transport already running")
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind TCP socket on %s: %w", t.addr, err)
	}

	t.listener = ln
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   ln.Addr().String(),
	}, "DNS transport started")

	t.wg.Add(1)
	go t.acceptLoop(handler)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop()
		case <-t.stopCh:
		}
	}()

	return nil
}

// Stop closes the listener and waits for in-flight connection readers.
func (t *TCPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	close(t.stopCh)
	closeErr := t.listener.Close()
	t.running = false
	t.mu.Unlock()

	t.wg.Wait()

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   t.addr,
	}, "DNS transport stopped")
	return closeErr
}

// Address returns the configured listen address.
func (t *TCPTransport) Address() string {
	return t.addr
}

// LocalAddr returns the bound address, or nil before Start.
func (t *TCPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPTransport) acceptLoop(handler Handler) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.logger.Warn(map[string]any{"error": err.Error()}, "Failed to accept TCP connection")
			continue
		}
		t.wg.Add(1)
		go t.serveConn(conn, handler)
	}
}

// serveConn reads one framed query and hands it to handler. The connection
// is closed after the reply is written or once the reply timeout elapses
// without one.
func (t *TCPTransport) serveConn(conn net.Conn, handler Handler) {
	defer t.wg.Done()

	_ = conn.SetReadDeadline(time.Now().Add(t.timeout))
	data, err := readFramed(conn)
	if err != nil {
		t.logger.Debug(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err.Error(),
		}, "Failed to read TCP DNS query")
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var once sync.Once
	closeConn := func() { once.Do(func() { _ = conn.Close() }) }
	timer := time.AfterFunc(t.reply, closeConn)

	handler.Handle(Packet{
		Data:  data,
		Src:   conn.RemoteAddr(),
		Proto: TransportTCP,
		Reply: func(resp []byte) error {
			defer func() {
				timer.Stop()
				closeConn()
			}()
			_ = conn.SetWriteDeadline(time.Now().Add(t.timeout))
			if err := writeFramed(conn, resp); err != nil {
				t.logger.Error(map[string]any{
					"client": conn.RemoteAddr().String(),
					"error":  err.Error(),
				}, "Failed to send DNS response")
				return err
			}
			return nil
		},
	})
}

// readFramed reads a 2-byte big-endian length followed by that many bytes.
func readFramed(r io.Reader) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(prefix[:])
	if n == 0 {
		return nil, errEmptyMessage
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// writeFramed writes msg with its 2-byte big-endian length prefix.
func writeFramed(w io.Writer, msg []byte) error {
	if len(msg) > maxTCPMessage {
		return fmt.Errorf("message of %d bytes exceeds TCP limit", len(msg))
	}
	out := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	copy(out[2:], msg)
	_, err := w.Write(out)
	return err
}
