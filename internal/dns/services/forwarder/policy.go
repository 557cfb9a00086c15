package forwarder

import (
	"errors"
	"fmt"
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/kdns/internal/dns/common/utils"
)

const (
	// DefaultPort is appended to upstream addresses given without one.
	DefaultPort = "53"
	// DefaultMemoSize bounds the memo of name to upstream selections.
	DefaultMemoSize = 8192

	zoneSeparator = "%"
	addrSeparator = ","
	zoneAddrSep   = "@"
)

var (
	ErrNoDefaultServers = errors.New("forwarder: no default upstream servers")
	ErrBadZoneSpec      = errors.New("forwarder: malformed forward zone")
	ErrBadServer        = errors.New("forwarder: malformed upstream address")
)

// Zone maps a domain suffix to its upstream servers.
type Zone struct {
	Suffix  string
	Servers []string
}

// Policy selects upstream servers for a domain by longest suffix match over
// the configured zones, falling back to the default servers.
type Policy struct {
	zones    []Zone
	defaults []string
	memo     *lru.Cache[string, int]
}

// ParsePolicy builds a Policy from a forward-zone list of the form
// "zone@addr[:port],addr%zone2@addr" and a list of default servers. Addresses
// without a port get port 53. Any malformed entry is an error.
func ParsePolicy(zoneList string, defaults []string) (*Policy, error) {
	return ParsePolicySize(zoneList, defaults, DefaultMemoSize)
}

// ParsePolicySize is ParsePolicy with an explicit memo size.
func ParsePolicySize(zoneList string, defaults []string, memoSize int) (*Policy, error) {
	def, err := normalizeServers(defaults)
	if err != nil {
		return nil, err
	}
	if len(def) == 0 {
		return nil, ErrNoDefaultServers
	}

	var zones []Zone
	zoneList = strings.TrimSpace(zoneList)
	if zoneList != "" {
		for _, part := range strings.Split(zoneList, zoneSeparator) {
			z, err := parseZone(part)
			if err != nil {
				return nil, err
			}
			zones = append(zones, z)
		}
	}

	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[string, int](memoSize)
	if err != nil {
		return nil, err
	}
	return &Policy{zones: zones, defaults: def, memo: memo}, nil
}

func parseZone(part string) (Zone, error) {
	at := strings.LastIndex(part, zoneAddrSep)
	if at < 0 {
		return Zone{}, fmt.Errorf("%w: %q has no %q", ErrBadZoneSpec, part, zoneAddrSep)
	}
	suffix := utils.CanonicalDNSName(part[:at])
	if suffix == "" {
		return Zone{}, fmt.Errorf("%w: %q has an empty zone", ErrBadZoneSpec, part)
	}
	servers, err := normalizeServers(strings.Split(part[at+1:], addrSeparator))
	if err != nil {
		return Zone{}, err
	}
	if len(servers) == 0 {
		return Zone{}, fmt.Errorf("%w: %q has no servers", ErrBadZoneSpec, part)
	}
	return Zone{Suffix: suffix, Servers: servers}, nil
}

func normalizeServers(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := NormalizeServer(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// NormalizeServer returns addr as host:port, adding DefaultPort when absent.
func NormalizeServer(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, DefaultPort
		if strings.Count(addr, ":") > 1 {
			host = strings.Trim(addr, "[]")
		}
	}
	if host == "" || strings.ContainsAny(host, " @%") {
		return "", fmt.Errorf("%w: %q", ErrBadServer, addr)
	}
	if _, err := net.LookupPort("udp", port); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrBadServer, addr, err)
	}
	return net.JoinHostPort(host, port), nil
}

// Select returns the servers for a canonical domain name. The longest
// matching zone wins; equal-length matches go to the first declared.
func (p *Policy) Select(name string) []string {
	if idx, ok := p.memo.Get(name); ok {
		return p.servers(idx)
	}
	best, bestLen := -1, -1
	for i, z := range p.zones {
		if len(z.Suffix) > bestLen && utils.IsSubdomain(name, z.Suffix) {
			best, bestLen = i, len(z.Suffix)
		}
	}
	p.memo.Add(name, best)
	return p.servers(best)
}

func (p *Policy) servers(idx int) []string {
	if idx < 0 {
		return p.defaults
	}
	return p.zones[idx].Servers
}

// Zones returns the configured zones in declaration order.
func (p *Policy) Zones() []Zone { return p.zones }

// Defaults returns the default servers.
func (p *Policy) Defaults() []string { return p.defaults }
