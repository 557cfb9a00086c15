package domain

import (
	"errors"
	"strings"
)

const (
	// MaxLabelLen is the longest permitted label.
	MaxLabelLen = 63
	// MaxNameLen is the longest permitted encoded name, including the root byte.
	MaxNameLen = 255
)

var (
	ErrEmptyLabel   = errors.New("empty label")
	ErrLabelTooLong = errors.New("label exceeds 63 bytes")
	ErrNameTooLong  = errors.New("name exceeds 255 bytes")
)

// Name is a domain name held as an ordered label sequence, leaf first.
// The zero value is the root name.
type Name struct {
	labels []string
}

// Root is the root domain name.
var Root = Name{}

// ParseName parses a dotted domain name. A trailing dot is optional and "" or
// "." yield the root. A label may carry a literal dot or backslash escaped
// as "\." or "\\".
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return Root, nil
	}
	return NameFromLabels(splitLabels(s))
}

// splitLabels splits s on unescaped dots. One trailing unescaped dot is
// dropped.
func splitLabels(s string) []string {
	var (
		labels   []string
		label    strings.Builder
		trailing bool
	)
	for i := 0; i < len(s); i++ {
		trailing = false
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			label.WriteByte(s[i])
		case c == '.':
			labels = append(labels, label.String())
			label.Reset()
			trailing = true
		default:
			label.WriteByte(c)
		}
	}
	if !trailing {
		labels = append(labels, label.String())
	}
	return labels
}

// escapeLabel escapes the bytes that would make a joined label ambiguous.
func escapeLabel(l string) string {
	if !strings.ContainsAny(l, ".\\") {
		return l
	}
	var b strings.Builder
	for i := 0; i < len(l); i++ {
		if l[i] == '.' || l[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(l[i])
	}
	return b.String()
}

func (n Name) join() string {
	parts := make([]string, len(n.labels))
	for i, l := range n.labels {
		parts[i] = escapeLabel(l)
	}
	return strings.Join(parts, ".")
}

// MustParseName is like ParseName but panics on error. Intended for tests and
// constant names.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// NameFromLabels builds a Name from leaf-first labels, enforcing label and
// total length limits.
func NameFromLabels(labels []string) (Name, error) {
	total := 1
	for _, l := range labels {
		if len(l) == 0 {
			return Name{}, ErrEmptyLabel
		}
		if len(l) > MaxLabelLen {
			return Name{}, ErrLabelTooLong
		}
		total += len(l) + 1
	}
	if total > MaxNameLen {
		return Name{}, ErrNameTooLong
	}
	cp := make([]string, len(labels))
	copy(cp, labels)
	return Name{labels: cp}, nil
}

// Labels returns the leaf-first labels. The slice must not be modified.
func (n Name) Labels() []string { return n.labels }

// LabelCount returns the number of non-root labels.
func (n Name) LabelCount() int { return len(n.labels) }

// IsRoot reports whether n is the root name.
func (n Name) IsRoot() bool { return len(n.labels) == 0 }

// Suffix returns the name formed by dropping the first i labels.
func (n Name) Suffix(i int) Name {
	if i >= len(n.labels) {
		return Root
	}
	return Name{labels: n.labels[i:]}
}

// Parent returns n without its leaf label. The parent of the root is the root.
func (n Name) Parent() Name { return n.Suffix(1) }

// WireLen returns the uncompressed encoded length including the root byte.
func (n Name) WireLen() int {
	total := 1
	for _, l := range n.labels {
		total += len(l) + 1
	}
	return total
}

// Key returns the lowercase dotted form without trailing dot, suitable as a
// map key. Dots and backslashes inside a label are escaped, so distinct label
// sequences never share a key. The root's key is "".
func (n Name) Key() string {
	return strings.ToLower(n.join())
}

// String returns the presentation form with a trailing dot.
func (n Name) String() string {
	if n.IsRoot() {
		return "."
	}
	return n.join() + "."
}

// Equal compares names case-insensitively.
func (n Name) Equal(o Name) bool {
	if len(n.labels) != len(o.labels) {
		return false
	}
	for i := range n.labels {
		if !strings.EqualFold(n.labels[i], o.labels[i]) {
			return false
		}
	}
	return true
}

// IsSubdomainOf reports whether n equals zone or lies below it.
func (n Name) IsSubdomainOf(zone Name) bool {
	if len(zone.labels) > len(n.labels) {
		return false
	}
	return n.Suffix(len(n.labels) - len(zone.labels)).Equal(zone)
}
