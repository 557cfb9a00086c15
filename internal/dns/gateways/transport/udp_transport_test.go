package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/kdns/internal/dns/common/log"
)

// MockLogger implements log.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Error(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Debug(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Warn(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Panic(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Fatal(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) With(map[string]any) log.Logger          { return m }

// echoHandler replies to every packet with its own bytes reversed and
// forwards the packet on ch.
func echoHandler(ch chan<- Packet) Handler {
	return HandlerFunc(func(pkt Packet) {
		resp := make([]byte, len(pkt.Data))
		for i, b := range pkt.Data {
			resp[len(resp)-1-i] = b
		}
		_ = pkt.Reply(resp)
		if ch != nil {
			ch <- pkt
		}
	})
}

func TestNewUDPTransport(t *testing.T) {
	logger := log.NewNoopLogger()
	addr := "127.0.0.1:5053"

	transport := NewUDPTransport(addr, logger)

	assert.NotNil(t, transport)
	assert.Equal(t, addr, transport.Address())
	assert.Equal(t, logger, transport.logger)
	assert.NotNil(t, transport.stopCh)
	assert.False(t, transport.running)
	assert.Nil(t, transport.LocalAddr())
}

func TestUDPTransport_StartStop(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid address",
			addr: "127.0.0.1:0",
		},
		{
			name:    "invalid address format",
			addr:    "invalid-address",
			wantErr: true,
			errMsg:  "failed to resolve UDP address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewUDPTransport(tt.addr, log.NewNoopLogger())
			err := transport.Start(context.Background(), echoHandler(nil))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.False(t, transport.running)
				return
			}
			require.NoError(t, err)
			assert.True(t, transport.running)
			assert.NotNil(t, transport.LocalAddr())

			assert.NoError(t, transport.Stop())
			assert.False(t, transport.running)
			assert.NoError(t, transport.Stop(), "second stop is a no-op")
		})
	}
}

func TestUDPTransport_StartTwice(t *testing.T) {
	transport := NewUDPTransport("127.0.0.1:0", log.NewNoopLogger())
	require.NoError(t, transport.Start(context.Background(), echoHandler(nil)))
	defer transport.Stop()

	err := transport.Start(context.Background(), echoHandler(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestUDPTransport_DeliversAndReplies(t *testing.T) {
	seen := make(chan Packet, 1)
	transport := NewUDPTransport("127.0.0.1:0", log.NewNoopLogger())
	require.NoError(t, transport.Start(context.Background(), echoHandler(seen)))
	defer transport.Stop()

	client, err := net.DialUDP("udp", nil, transport.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1}, buf[:n])

	pkt := <-seen
	assert.Equal(t, TransportUDP, pkt.Proto)
	assert.Equal(t, []byte{1, 2, 3}, pkt.Data)
	assert.Equal(t, client.LocalAddr().String(), pkt.Src.String())
}

func TestUDPTransport_StopsOnContextCancel(t *testing.T) {
	logger := &MockLogger{}
	logger.On("Info", mock.Anything, mock.Anything).Return()
	logger.On("Debug", mock.Anything, mock.Anything).Return()
	logger.On("Warn", mock.Anything, mock.Anything).Maybe().Return()

	transport := NewUDPTransport("127.0.0.1:0", logger)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, transport.Start(ctx, echoHandler(nil)))

	cancel()
	assert.Eventually(t, func() bool {
		transport.mu.RLock()
		defer transport.mu.RUnlock()
		return !transport.running
	}, time.Second, 5*time.Millisecond)
	select {
	case <-transport.done:
	case <-time.After(time.Second):
		t.Fatal("read loop did not exit")
	}
}
