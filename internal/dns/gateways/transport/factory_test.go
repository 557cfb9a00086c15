package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/kdns/internal/dns/common/log"
)

func TestNewTransport(t *testing.T) {
	logger := log.NewNoopLogger()

	tests := []struct {
		name          string
		transportType TransportType
		addr          string
		wantErr       bool
		errContains   string
		wantType      any
	}{
		{
			name:          "UDP transport success",
			transportType: TransportUDP,
			addr:          "127.0.0.1:0",
			wantType:      &UDPTransport{},
		},
		{
			name:          "TCP transport success",
			transportType: TransportTCP,
			addr:          "127.0.0.1:0",
			wantType:      &TCPTransport{},
		},
		{
			name:          "DNS over HTTPS is not served",
			transportType: TransportType("doh"),
			addr:          "127.0.0.1:443",
			wantErr:       true,
			errContains:   "unsupported transport type: doh",
		},
		{
			name:          "unsupported transport type",
			transportType: TransportType("unknown"),
			addr:          "127.0.0.1:53",
			wantErr:       true,
			errContains:   "unsupported transport type: unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := NewTransport(tt.transportType, tt.addr, logger)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, transport)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, transport)
			assert.Equal(t, tt.addr, transport.Address())
		})
	}
}

func TestPacket_MaxMessage(t *testing.T) {
	assert.Equal(t, 512, Packet{Proto: TransportUDP}.MaxMessage())
	assert.Equal(t, 65535, Packet{Proto: TransportTCP}.MaxMessage())
}
