package wire

import (
	"encoding/binary"
	"errors"

	"github.com/haukened/kdns/internal/dns/domain"
)

// HeaderLen is the fixed DNS header length.
const HeaderLen = 12

// Maximum message sizes per transport.
const (
	MaxUDPMessage  = 512
	MaxTCPMessage  = 65535
	MaxEDNSMessage = 4096
)

// Header flag bits.
const (
	FlagQR uint16 = 0x8000
	FlagAA uint16 = 0x0400
	FlagTC uint16 = 0x0200
	FlagRD uint16 = 0x0100
	FlagRA uint16 = 0x0080
)

// OpcodeQuery is the standard query opcode.
const OpcodeQuery uint8 = 0

// Header count field offsets.
const (
	offFlags   = 2
	offQDCount = 4
	offANCount = 6
	offNSCount = 8
	offARCount = 10
)

var ErrShortHeader = errors.New("wire: message shorter than header")

// Header is the decoded fixed header of a DNS message.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// ParseHeader decodes the 12-byte header at the start of msg.
func ParseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	return Header{
		ID:      binary.BigEndian.Uint16(msg[0:]),
		Flags:   binary.BigEndian.Uint16(msg[offFlags:]),
		QDCount: binary.BigEndian.Uint16(msg[offQDCount:]),
		ANCount: binary.BigEndian.Uint16(msg[offANCount:]),
		NSCount: binary.BigEndian.Uint16(msg[offNSCount:]),
		ARCount: binary.BigEndian.Uint16(msg[offARCount:]),
	}, nil
}

// Flag accessors.
func (h Header) QR() bool      { return h.Flags&FlagQR != 0 }
func (h Header) TC() bool      { return h.Flags&FlagTC != 0 }
func (h Header) AA() bool      { return h.Flags&FlagAA != 0 }
func (h Header) RD() bool      { return h.Flags&FlagRD != 0 }
func (h Header) Opcode() uint8 { return uint8(h.Flags>>11) & 0x0F }

// RCode returns the low four bits of the flags word.
func (h Header) RCode() domain.RCode { return domain.RCode(h.Flags & 0x000F) }

// SetID rewrites the message ID in place.
func SetID(msg []byte, id uint16) {
	if len(msg) >= 2 {
		binary.BigEndian.PutUint16(msg, id)
	}
}

// SetFlags ORs bits into the header flags in place.
func SetFlags(msg []byte, bits uint16) {
	if len(msg) >= HeaderLen {
		f := binary.BigEndian.Uint16(msg[offFlags:])
		binary.BigEndian.PutUint16(msg[offFlags:], f|bits)
	}
}

// SetRCode replaces the header RCODE in place.
func SetRCode(msg []byte, rc domain.RCode) {
	if len(msg) >= HeaderLen {
		f := binary.BigEndian.Uint16(msg[offFlags:])
		binary.BigEndian.PutUint16(msg[offFlags:], f&^0x000F|uint16(rc)&0x000F)
	}
}

// ErrorResponse builds a header-only response to query carrying rcode. The
// ID, opcode and RD bit are echoed. It returns nil when query has no header.
func ErrorResponse(query []byte, rc domain.RCode) []byte {
	if len(query) < HeaderLen {
		return nil
	}
	q, _ := ParseHeader(query)
	resp := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(resp[0:], q.ID)
	flags := FlagQR | q.Flags&(0x7800|FlagRD) | uint16(rc)&0x000F
	binary.BigEndian.PutUint16(resp[offFlags:], flags)
	return resp
}

// StartResponse writes the header and question of query into buf as the
// beginning of a response: QR set, opcode and RD echoed, QDCOUNT 1 and the
// other counts zero. questionEnd is the offset just past the question.
func StartResponse(buf *Buffer, query []byte, questionEnd int) error {
	if questionEnd < HeaderLen || questionEnd > len(query) {
		return ErrOutOfRange
	}
	mark := buf.Mark()
	if err := buf.Write(query[:questionEnd]); err != nil {
		return err
	}
	msg := buf.Bytes()[mark:]
	q, _ := ParseHeader(query)
	binary.BigEndian.PutUint16(msg[offFlags:], FlagQR|q.Flags&(0x7800|FlagRD))
	binary.BigEndian.PutUint16(msg[offQDCount:], 1)
	binary.BigEndian.PutUint16(msg[offANCount:], 0)
	binary.BigEndian.PutUint16(msg[offNSCount:], 0)
	binary.BigEndian.PutUint16(msg[offARCount:], 0)
	return nil
}
