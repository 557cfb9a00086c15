package wire

import "github.com/haukened/kdns/internal/dns/domain"

// maxPointerOffset is the largest offset a compression pointer can address.
const maxPointerOffset = 0x3FFF

type compressionEntry struct {
	key    string
	offset int
}

// CompressionTable records where each name suffix was first written in the
// response being built. Offsets are recorded in increasing order, so a
// rollback only has to drop entries from the tail.
type CompressionTable struct {
	offsets  map[string]int
	order    []compressionEntry
	capacity int
}

// NewCompressionTable returns a table holding at most capacity entries. A
// non-positive capacity selects domain.MaxRRsPerResponse.
func NewCompressionTable(capacity int) *CompressionTable {
	if capacity <= 0 {
		capacity = domain.MaxRRsPerResponse
	}
	return &CompressionTable{
		offsets:  make(map[string]int),
		capacity: capacity,
	}
}

// Lookup returns the offset recorded for a suffix key.
func (t *CompressionTable) Lookup(key string) (int, bool) {
	off, ok := t.offsets[key]
	return off, ok
}

// Record stores key at offset. Offsets beyond pointer range, duplicate keys
// and records past capacity are ignored and reported as false.
func (t *CompressionTable) Record(key string, offset int) bool {
	if offset > maxPointerOffset || len(t.order) >= t.capacity {
		return false
	}
	if _, ok := t.offsets[key]; ok {
		return false
	}
	t.offsets[key] = offset
	t.order = append(t.order, compressionEntry{key: key, offset: offset})
	return true
}

// Truncate forgets every entry recorded at or beyond mark.
func (t *CompressionTable) Truncate(mark int) {
	i := len(t.order)
	for i > 0 && t.order[i-1].offset >= mark {
		i--
		delete(t.offsets, t.order[i].key)
	}
	t.order = t.order[:i]
}

// Reset empties the table for the next response.
func (t *CompressionTable) Reset() {
	clear(t.offsets)
	t.order = t.order[:0]
}

// Len returns the number of recorded suffixes.
func (t *CompressionTable) Len() int { return len(t.order) }
