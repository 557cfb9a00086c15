package recordtable

import (
	"sync"

	"github.com/haukened/kdns/internal/dns/domain"
)

// Shared guards a Table with a reader/writer lock. It backs the
// administrative view on the coordinating side; worker cores never touch it.
type Shared struct {
	mu    sync.RWMutex
	table *Table
}

// NewShared wraps t.
func NewShared(t *Table) *Shared {
	return &Shared{table: t}
}

// Apply applies m under the write lock.
func (s *Shared) Apply(m *domain.Mutation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Apply(m)
}

// Update runs fn with exclusive access to the table.
func (s *Shared) Update(fn func(t *Table)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.table)
}

// Lookup is Table.Lookup under the read lock.
func (s *Shared) Lookup(name string, qtype domain.RRType) (*domain.RRset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Lookup(name, qtype)
}

// Find is Table.Find under the read lock.
func (s *Shared) Find(name string) []domain.Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Find(name)
}

// Records returns a snapshot of every record.
func (s *Shared) Records() []domain.Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Mutation, 0, s.table.Len())
	s.table.Walk(func(rec domain.Mutation) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// Len returns the record count.
func (s *Shared) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Len()
}
