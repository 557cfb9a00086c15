package domain

import "fmt"

// RRType represents a DNS resource record type.
type RRType uint16

// Resource record types known to kdns. Only A, PTR, CNAME and SRV can be
// stored; SOA is synthesised for negative answers and NS/ANY only appear in
// queries.
const (
	RRTypeA     RRType = 1   // A - IPv4 address
	RRTypeNS    RRType = 2   // NS - Name server
	RRTypeCNAME RRType = 5   // CNAME - Canonical name
	RRTypeSOA   RRType = 6   // SOA - Start of authority
	RRTypePTR   RRType = 12  // PTR - Pointer
	RRTypeSRV   RRType = 33  // SRV - Service
	RRTypeANY   RRType = 255 // ANY - Any type (query only)
)

// IsStorable reports whether records of this type may be held in a record table.
func (t RRType) IsStorable() bool {
	switch t {
	case RRTypeA, RRTypeCNAME, RRTypePTR, RRTypeSRV:
		return true
	default:
		return false
	}
}

// String returns the textual representation of the RRType.
// For unknown types, it returns "UNKNOWN(<value>)".
func (t RRType) String() string {
	switch t {
	case RRTypeA:
		return "A"
	case RRTypeNS:
		return "NS"
	case RRTypeCNAME:
		return "CNAME"
	case RRTypeSOA:
		return "SOA"
	case RRTypePTR:
		return "PTR"
	case RRTypeSRV:
		return "SRV"
	case RRTypeANY:
		return "ANY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// RRTypeFromString converts a record type mnemonic to its RRType value.
// Unknown mnemonics return 0.
func RRTypeFromString(s string) RRType {
	switch s {
	case "A":
		return RRTypeA
	case "NS":
		return RRTypeNS
	case "CNAME":
		return RRTypeCNAME
	case "SOA":
		return RRTypeSOA
	case "PTR":
		return RRTypePTR
	case "SRV":
		return RRTypeSRV
	case "ANY":
		return RRTypeANY
	default:
		return 0
	}
}
