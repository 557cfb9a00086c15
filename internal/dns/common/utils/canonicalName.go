package utils

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// CanonicalDNSName returns a DNS name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot because it doesn't add any runtime benefit, only legacy baggage.
func CanonicalDNSName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	// remove all trailing dots
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// IsSubdomain reports whether name equals zone or sits below it on a label
// boundary. Both arguments must already be canonical. The empty zone is the
// root and contains every name.
func IsSubdomain(name, zone string) bool {
	if zone == "" || name == zone {
		return true
	}
	if len(name) <= len(zone) {
		return false
	}
	return strings.HasSuffix(name, zone) && name[len(name)-len(zone)-1] == '.'
}

// LabelCount returns the number of labels in a canonical name.
func LabelCount(name string) int {
	if name == "" {
		return 0
	}
	return strings.Count(name, ".") + 1
}

// NameHash returns a stable 64-bit hash of a canonical name, used for bucket
// and core selection.
func NameHash(name string) uint64 {
	return xxhash.Sum64String(name)
}
