package domain

// RRClass represents a DNS class (usually IN for Internet).
type RRClass uint16

const (
	RRClassIN  RRClass = 1   // IN - Internet
	RRClassCH  RRClass = 3   // CH - Chaos
	RRClassANY RRClass = 255 // ANY - Any class (query only)
)

// String returns the textual representation of the RRClass.
func (c RRClass) String() string {
	switch c {
	case RRClassIN:
		return "IN"
	case RRClassCH:
		return "CH"
	case RRClassANY:
		return "ANY"
	default:
		return "UNKNOWN"
	}
}
