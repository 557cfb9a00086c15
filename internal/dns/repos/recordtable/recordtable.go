// Package recordtable stores authoritative records in a chained hash table
// keyed by domain name. A Table has a single owner and takes no locks; Shared
// wraps one for concurrent readers.
package recordtable

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/domain"
)

const (
	DefaultBuckets = 1 << 16
	// DefaultExpected sizes the negative-lookup filter.
	DefaultExpected = 1 << 20
)

const filterFalsePositive = 0.01

type node struct {
	rec   domain.Mutation
	atoms []domain.Atom
	next  *node
}

// Options configures a Table.
type Options struct {
	// Buckets is rounded up to a power of two.
	Buckets int
	// Expected is the record count the bloom filter is sized for.
	Expected uint
}

// Table is a single-owner record store. Records are matched on
// (domain, zone, host).
type Table struct {
	buckets []*node
	mask    uint64
	count   int
	filter  *bloom.BloomFilter
}

// New returns an empty table.
func New(opts Options) *Table {
	n := opts.Buckets
	if n <= 0 {
		n = DefaultBuckets
	}
	size := 1
	for size < n {
		size <<= 1
	}
	if opts.Expected == 0 {
		opts.Expected = DefaultExpected
	}
	return &Table{
		buckets: make([]*node, size),
		mask:    uint64(size - 1),
		filter:  bloom.NewWithEstimates(opts.Expected, filterFalsePositive),
	}
}

func (t *Table) index(name string) uint64 {
	return utils.NameHash(name) & t.mask
}

// Apply adds or deletes one record and reports whether the table changed.
// Adding an existing key, deleting a missing key and adding a record with
// unencodable rdata are no-ops.
func (t *Table) Apply(m *domain.Mutation) bool {
	switch m.Action {
	case domain.ActionAdd:
		return t.add(m)
	case domain.ActionDelete:
		return t.delete(m)
	default:
		return false
	}
}

func (t *Table) add(m *domain.Mutation) bool {
	key := m.Key()
	idx := t.index(m.Domain)
	p := &t.buckets[idx]
	for ; *p != nil; p = &(*p).next {
		if (*p).rec.Key() == key {
			return false
		}
	}
	atoms, err := rdataAtoms(m)
	if err != nil {
		return false
	}
	*p = &node{rec: *m, atoms: atoms}
	t.filter.AddString(m.Domain)
	t.count++
	return true
}

func (t *Table) delete(m *domain.Mutation) bool {
	key := m.Key()
	idx := t.index(m.Domain)
	for p := &t.buckets[idx]; *p != nil; p = &(*p).next {
		if (*p).rec.Key() == key {
			*p = (*p).next
			t.count--
			return true
		}
	}
	return false
}

// Lookup builds the RRset of type qtype owned by name. The bloom filter
// short-circuits names that were never added.
func (t *Table) Lookup(name string, qtype domain.RRType) (*domain.RRset, bool) {
	if !t.filter.TestString(name) {
		return nil, false
	}
	var rs *domain.RRset
	for n := t.buckets[t.index(name)]; n != nil; n = n.next {
		if n.rec.Domain != name || n.rec.Type != qtype {
			continue
		}
		if rs == nil {
			owner, err := domain.ParseName(name)
			if err != nil {
				return nil, false
			}
			rs = domain.NewRRset(owner, qtype, domain.RRClassIN)
		}
		rs.Add(n.rec.TTL, n.atoms...)
		if rs.MaxAnswer == 0 && n.rec.MaxAnswer > 0 {
			rs.MaxAnswer = n.rec.MaxAnswer
		}
	}
	return rs, rs != nil
}

// Exists reports whether any record is owned by name.
func (t *Table) Exists(name string) bool {
	if !t.filter.TestString(name) {
		return false
	}
	for n := t.buckets[t.index(name)]; n != nil; n = n.next {
		if n.rec.Domain == name {
			return true
		}
	}
	return false
}

// Find returns copies of every record owned by name.
func (t *Table) Find(name string) []domain.Mutation {
	var out []domain.Mutation
	for n := t.buckets[t.index(name)]; n != nil; n = n.next {
		if n.rec.Domain == name {
			out = append(out, n.rec)
		}
	}
	return out
}

// Walk calls fn for every record until fn returns false.
func (t *Table) Walk(fn func(rec domain.Mutation) bool) {
	for _, head := range t.buckets {
		for n := head; n != nil; n = n.next {
			if !fn(n.rec) {
				return
			}
		}
	}
}

// Len returns the number of stored records.
func (t *Table) Len() int { return t.count }
