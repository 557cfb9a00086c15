package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/kdns/internal/dns/domain"
)

func TestParseHeader(t *testing.T) {
	msg := []byte{0x12, 0x34, 0x81, 0x80, 0, 1, 0, 2, 0, 3, 0, 4}
	h, err := ParseHeader(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), h.ID)
	assert.True(t, h.QR())
	assert.True(t, h.RD())
	assert.False(t, h.TC())
	assert.Equal(t, OpcodeQuery, h.Opcode())
	assert.Equal(t, uint16(1), h.QDCount)
	assert.Equal(t, uint16(4), h.ARCount)

	_, err = ParseHeader(msg[:11])
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestErrorResponse(t *testing.T) {
	query := buildQuery(t, 0xBEEF, "example.com.", 1)
	resp := ErrorResponse(query, domain.RCodeFormErr)
	require.Len(t, resp, HeaderLen)

	h, err := ParseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), h.ID)
	assert.True(t, h.QR())
	assert.True(t, h.RD())
	assert.Equal(t, domain.RCodeFormErr, h.RCode())
	assert.Zero(t, h.QDCount)

	assert.Nil(t, ErrorResponse([]byte{1, 2}, domain.RCodeFormErr))
}

func TestSetRCodeAndFlags(t *testing.T) {
	msg := make([]byte, HeaderLen)
	SetFlags(msg, FlagQR|FlagAA)
	SetRCode(msg, domain.RCodeNXDomain)
	SetRCode(msg, domain.RCodeNoError)
	SetRCode(msg, domain.RCodeServFail)
	SetID(msg, 7)

	h, _ := ParseHeader(msg)
	assert.Equal(t, uint16(7), h.ID)
	assert.True(t, h.AA())
	assert.Equal(t, domain.RCodeServFail, h.RCode())
}

func TestStartResponse(t *testing.T) {
	query := buildQuery(t, 42, "www.example.com.", 1)
	buf := NewBuffer(MaxUDPMessage)
	require.NoError(t, StartResponse(buf, query, len(query)))
	assert.Equal(t, len(query), buf.Position())

	h, _ := ParseHeader(buf.Bytes())
	assert.Equal(t, uint16(42), h.ID)
	assert.True(t, h.QR())
	assert.Equal(t, uint16(1), h.QDCount)
	assert.Equal(t, query[HeaderLen:], buf.Bytes()[HeaderLen:])

	assert.ErrorIs(t, StartResponse(NewBuffer(64), query, 5), ErrOutOfRange)
}
