package domain

// Action is the kind of record-table mutation.
type Action uint8

const (
	ActionAdd Action = iota + 1
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// DefaultView is the view assigned to records that do not name one.
const DefaultView = "no_info"

// Mutation is a validated authoritative record change. Names are canonical
// (lowercase, no trailing dot).
type Mutation struct {
	Action Action
	Zone   string
	View   string
	Domain string
	// Host is the rdata in presentation form: an IPv4 address for A, a
	// target name for PTR, CNAME and SRV.
	Host string
	Type RRType
	TTL  uint32

	// SRV fields.
	Priority uint16
	Weight   uint16
	Port     uint16

	// A load-balancing fields.
	LBMode   uint8
	LBWeight uint16

	MaxAnswer int
}

// RecordKey identifies a stored record.
type RecordKey struct {
	Domain string
	Zone   string
	Host   string
}

// Key returns the identity used for add/delete matching.
func (m *Mutation) Key() RecordKey {
	return RecordKey{Domain: m.Domain, Zone: m.Zone, Host: m.Host}
}

// Clone returns an independent copy for delivery to another owner.
func (m *Mutation) Clone() *Mutation {
	c := *m
	return &c
}
