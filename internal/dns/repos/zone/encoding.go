package zone

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/domain"
)

// parseValue fills the host and type-specific fields of m from a
// presentation-format value.
func parseValue(m *domain.Mutation, data string) error {
	switch m.Type {
	case domain.RRTypeA:
		return parseA(m, data)
	case domain.RRTypeCNAME, domain.RRTypePTR:
		return parseTarget(m, data)
	case domain.RRTypeSRV:
		return parseSRV(m, data)
	case domain.RRTypeSOA, domain.RRTypeNS:
		return notAllowedInZone(m.Type)
	default:
		return fmt.Errorf("%s record type not supported", m.Type)
	}
}

// notAllowedInZone reports record types the server synthesizes itself.
func notAllowedInZone(t domain.RRType) error {
	return fmt.Errorf("%s record type not allowed in zone files", t)
}

// parseA accepts "192.0.2.1", optionally followed by a load-balancing
// weight: "192.0.2.1 10".
func parseA(m *domain.Mutation, data string) error {
	parts := strings.Fields(data)
	if len(parts) == 0 || len(parts) > 2 {
		return fmt.Errorf("invalid A record format (expected: ip [weight]): %s", data)
	}
	ip := net.ParseIP(parts[0]).To4()
	if ip == nil {
		return fmt.Errorf("invalid A record IP: %s", parts[0])
	}
	m.Host = ip.String()
	if len(parts) == 2 {
		w, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid A record weight: %s", parts[1])
		}
		m.LBWeight = uint16(w)
	}
	return nil
}

// parseTarget accepts a single domain name.
func parseTarget(m *domain.Mutation, data string) error {
	name, err := parseName(data)
	if err != nil {
		return fmt.Errorf("invalid %s target: %w", m.Type, err)
	}
	m.Host = name
	return nil
}

// parseSRV accepts "priority weight port target".
func parseSRV(m *domain.Mutation, data string) error {
	parts := strings.Fields(data)
	if len(parts) != 4 {
		return fmt.Errorf("invalid SRV record format (expected 4 fields): %s", data)
	}
	var vals [3]uint16
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(parts[i], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid SRV field %d: %v", i, err)
		}
		vals[i] = uint16(v)
	}
	target, err := parseName(parts[3])
	if err != nil {
		return fmt.Errorf("invalid SRV target: %w", err)
	}
	m.Priority, m.Weight, m.Port = vals[0], vals[1], vals[2]
	m.Host = target
	return nil
}

// parseName canonicalizes name and checks it against the wire limits.
func parseName(name string) (string, error) {
	canon := utils.CanonicalDNSName(name)
	n, err := domain.ParseName(canon)
	if err != nil {
		return "", err
	}
	if n.IsRoot() {
		return "", fmt.Errorf("empty name")
	}
	return canon, nil
}
