package domain

// AtomKind selects how an rdata atom is written on the wire.
type AtomKind uint8

const (
	// AtomCompressedName is a domain name that may use compression pointers.
	AtomCompressedName AtomKind = iota
	// AtomUncompressedName is a domain name always written in full (e.g. SRV target).
	AtomUncompressedName
	// AtomBytes is an opaque byte blob.
	AtomBytes
)

// Atom is one piece of type-specific rdata.
type Atom struct {
	Kind AtomKind
	Name Name
	Data []byte
}

// CompressedName returns a name atom eligible for compression.
func CompressedName(n Name) Atom { return Atom{Kind: AtomCompressedName, Name: n} }

// UncompressedName returns a name atom written without compression.
func UncompressedName(n Name) Atom { return Atom{Kind: AtomUncompressedName, Name: n} }

// Bytes returns an opaque blob atom.
func Bytes(b []byte) Atom { return Atom{Kind: AtomBytes, Data: b} }

// Record is a single resource record's type, class, TTL and rdata atoms. The
// owner name is carried by the enclosing RRset.
type Record struct {
	Type  RRType
	Class RRClass
	TTL   uint32
	Atoms []Atom
}

// RRset groups records sharing owner, type and class.
type RRset struct {
	Owner   Name
	Type    RRType
	Class   RRClass
	Records []Record
	// MaxAnswer caps how many records of this set go into one response.
	// Zero defers to the query-wide default.
	MaxAnswer int
}

// NewRRset returns an empty RRset for owner/type/class.
func NewRRset(owner Name, t RRType, c RRClass) *RRset {
	return &RRset{Owner: owner, Type: t, Class: c}
}

// Add appends a record, stamping it with the set's type and class.
func (s *RRset) Add(ttl uint32, atoms ...Atom) {
	s.Records = append(s.Records, Record{Type: s.Type, Class: s.Class, TTL: ttl, Atoms: atoms})
}

// Len returns the number of records in the set.
func (s *RRset) Len() int { return len(s.Records) }
