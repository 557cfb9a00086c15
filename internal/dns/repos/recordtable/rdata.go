package recordtable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/haukened/kdns/internal/dns/domain"
)

var (
	ErrUnsupportedType = errors.New("recordtable: unsupported record type")
	ErrInvalidHost     = errors.New("recordtable: invalid host")
)

// rdataAtoms converts a mutation's host and type-specific fields into wire
// atoms: A as a 4-byte blob, PTR and CNAME as compressible names, SRV as a
// 6-byte priority/weight/port blob followed by an uncompressed target.
func rdataAtoms(m *domain.Mutation) ([]domain.Atom, error) {
	switch m.Type {
	case domain.RRTypeA:
		ip := net.ParseIP(m.Host).To4()
		if ip == nil {
			return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidHost, m.Host)
		}
		return []domain.Atom{domain.Bytes(ip)}, nil
	case domain.RRTypePTR, domain.RRTypeCNAME:
		n, err := domain.ParseName(m.Host)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHost, m.Host, err)
		}
		return []domain.Atom{domain.CompressedName(n)}, nil
	case domain.RRTypeSRV:
		n, err := domain.ParseName(m.Host)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHost, m.Host, err)
		}
		fixed := make([]byte, 6)
		binary.BigEndian.PutUint16(fixed[0:], m.Priority)
		binary.BigEndian.PutUint16(fixed[2:], m.Weight)
		binary.BigEndian.PutUint16(fixed[4:], m.Port)
		return []domain.Atom{domain.Bytes(fixed), domain.UncompressedName(n)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, m.Type)
	}
}
