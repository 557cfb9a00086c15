package upstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
)

// Error message constants for consistent error handling
const (
	errNoServersProvided = "no upstream DNS servers provided"
	errServerFailed      = "server %s: %w"
	errAllServersFailed  = "all %d upstream servers failed"
	errFailedToConnect   = "failed to connect: %w"
	errWriteFailed       = "write failed: %w"
	errReadFailed        = "read failed: %w"
	errInvalidResponse   = "invalid response: %w"
	errMessageTooLarge   = "message of %d bytes exceeds TCP framing"
)

var (
	ErrIDMismatch  = errors.New("response ID does not match query")
	ErrNotResponse = errors.New("message is not a response")
	ErrShortQuery  = errors.New("query shorter than DNS header")
)

const (
	// DefaultTimeout bounds each attempt against one server.
	DefaultTimeout = 2 * time.Second
	// UDPReceiveSize is the receive buffer for UDP answers.
	UDPReceiveSize = 512
)

// DialFunc defines a function type for establishing a network connection.
// It takes a context for cancellation, the network type (e.g., "tcp", "udp"),
// and the address to connect to, returning a net.Conn and an error if any occurs.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures an Exchanger.
type Options struct {
	Timeout time.Duration
	// options to inject for testing purposes
	Dial DialFunc
}

// Exchanger relays raw DNS messages to upstream servers, trying each server
// in order until one returns a valid answer.
type Exchanger struct {
	timeout time.Duration
	dial    DialFunc
}

// NewExchanger creates an Exchanger. A zero timeout selects DefaultTimeout and
// a nil dial function selects net.Dialer.
func NewExchanger(opts Options) *Exchanger {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Exchanger{timeout: opts.Timeout, dial: opts.Dial}
}

// ExchangeUDP sends query to each server over UDP and returns the first
// valid response.
func (e *Exchanger) ExchangeUDP(ctx context.Context, servers []string, query []byte) ([]byte, error) {
	return e.exchange(ctx, servers, query, "udp", e.roundTripUDP)
}

// ExchangeTCP sends query to each server over TCP with a two-byte length
// prefix and returns the first valid response.
func (e *Exchanger) ExchangeTCP(ctx context.Context, servers []string, query []byte) ([]byte, error) {
	if len(query) > 0xFFFF {
		return nil, fmt.Errorf(errMessageTooLarge, len(query))
	}
	return e.exchange(ctx, servers, query, "tcp", e.roundTripTCP)
}

type roundTripFunc func(conn net.Conn, query []byte) ([]byte, error)

// exchange attempts each server in order until one responds successfully.
func (e *Exchanger) exchange(ctx context.Context, servers []string, query []byte, network string, rt roundTripFunc) ([]byte, error) {
	if len(servers) == 0 {
		return nil, errors.New(errNoServersProvided)
	}
	if len(query) < 12 {
		return nil, ErrShortQuery
	}
	var errs error
	for _, server := range servers {
		resp, err := e.queryServer(ctx, network, server, query, rt)
		if err == nil {
			return resp, nil
		}
		errs = multierr.Append(errs, fmt.Errorf(errServerFailed, server, err))
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(servers), errs)
}

// queryServer performs one attempt bounded by the exchanger timeout.
func (e *Exchanger) queryServer(ctx context.Context, network, server string, query []byte, rt roundTripFunc) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.dial(ctx, network, server)
	if err != nil {
		return nil, fmt.Errorf(errFailedToConnect, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	type result struct {
		resp []byte
		err  error
	}
	resultChan := make(chan result, 1)
	go func() {
		resp, err := rt(conn, query)
		if err == nil {
			err = validate(query, resp)
		}
		resultChan <- result{resp: resp, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Exchanger) roundTripUDP(conn net.Conn, query []byte) ([]byte, error) {
	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf(errWriteFailed, err)
	}
	buffer := make([]byte, UDPReceiveSize)
	n, err := conn.Read(buffer)
	if err != nil {
		return nil, fmt.Errorf(errReadFailed, err)
	}
	return buffer[:n], nil
}

func (e *Exchanger) roundTripTCP(conn net.Conn, query []byte) ([]byte, error) {
	framed := make([]byte, 2+len(query))
	binary.BigEndian.PutUint16(framed, uint16(len(query)))
	copy(framed[2:], query)
	if _, err := conn.Write(framed); err != nil {
		return nil, fmt.Errorf(errWriteFailed, err)
	}

	var prefix [2]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		return nil, fmt.Errorf(errReadFailed, err)
	}
	resp := make([]byte, binary.BigEndian.Uint16(prefix[:]))
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, fmt.Errorf(errReadFailed, err)
	}
	return resp, nil
}

// validate accepts resp only if it parses as a DNS response to query.
func validate(query, resp []byte) error {
	var m dns.Msg
	if err := m.Unpack(resp); err != nil {
		return fmt.Errorf(errInvalidResponse, err)
	}
	if !m.Response {
		return fmt.Errorf(errInvalidResponse, ErrNotResponse)
	}
	if m.Id != binary.BigEndian.Uint16(query) {
		return fmt.Errorf(errInvalidResponse, ErrIDMismatch)
	}
	return nil
}
