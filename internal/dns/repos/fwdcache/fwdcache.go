// Package fwdcache holds raw upstream answers keyed by (domain, qtype) with a
// fixed freshness window and stale-serving fallback.
package fwdcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/kdns/internal/dns/common/clock"
	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/domain"
)

const (
	// DefaultBuckets is the default bucket count. It must be a power of two.
	DefaultBuckets = 0x40000
	// MaxPayload is the largest cacheable upstream response.
	MaxPayload = 512
	// FreshTTL is how long an inserted entry is served without refresh.
	FreshTTL = 60 * time.Second
	// StaleGrace is how far a read of an expired entry pushes its expiry.
	StaleGrace = 60 * time.Second
	// Retention is how long past expiry an entry survives before a sweep drops it.
	Retention = 3600 * time.Second
)

var (
	ErrPayloadTooLarge = errors.New("fwdcache: payload exceeds 512 bytes")
	ErrEmptyPayload    = errors.New("fwdcache: empty payload")
)

// Status is the outcome of a Lookup.
type Status uint8

const (
	// NotFound means no entry exists for the key.
	NotFound Status = iota
	// Found means a fresh entry was returned.
	Found
	// Expired means the entry is past its expiry; its payload is returned as a
	// fallback and its expiry has been pushed forward by StaleGrace.
	Expired
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Expired:
		return "expired"
	default:
		return "not_found"
	}
}

type entry struct {
	domain    string
	qtype     domain.RRType
	payload   []byte
	expiresAt atomic.Int64 // unix nanoseconds
	next      *entry
}

// Options configures a Cache.
type Options struct {
	// Buckets is rounded up to a power of two. Zero selects DefaultBuckets.
	Buckets int
	Clock   clock.Clock
}

// Cache is a chained hash table guarded by one reader/writer lock. Lookups
// share the read lock; inserts, deletes and sweeps take it exclusively.
type Cache struct {
	mu      sync.RWMutex
	buckets []*entry
	mask    uint64
	count   int
	clock   clock.Clock
}

// New returns an empty cache.
func New(opts Options) *Cache {
	n := opts.Buckets
	if n <= 0 {
		n = DefaultBuckets
	}
	size := 1
	for size < n {
		size <<= 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Cache{
		buckets: make([]*entry, size),
		mask:    uint64(size - 1),
		clock:   opts.Clock,
	}
}

func (c *Cache) index(name string) uint64 {
	return utils.NameHash(name) & c.mask
}

func (c *Cache) find(idx uint64, name string, qtype domain.RRType) *entry {
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.qtype == qtype && e.domain == name {
			return e
		}
	}
	return nil
}

// Lookup returns a copy of the payload cached for (name, qtype). name must be
// canonical.
func (c *Cache) Lookup(name string, qtype domain.RRType) ([]byte, Status) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.find(c.index(name), name, qtype)
	if e == nil {
		return nil, NotFound
	}
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)

	now := c.clock.Now()
	if e.expiresAt.Load() > now.UnixNano() {
		return payload, Found
	}
	e.expiresAt.Store(now.Add(StaleGrace).UnixNano())
	return payload, Expired
}

// Insert stores payload for (name, qtype) with a fresh expiry. An existing
// entry for the key is left as is.
func (c *Cache) Insert(name string, qtype domain.RRType, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.index(name)
	if c.find(idx, name, qtype) != nil {
		return nil
	}
	e := &entry{domain: name, qtype: qtype, payload: append([]byte(nil), payload...)}
	e.expiresAt.Store(c.clock.Now().Add(FreshTTL).UnixNano())
	e.next = c.buckets[idx]
	c.buckets[idx] = e
	c.count++
	return nil
}

// Delete removes the entry for (name, qtype) and reports whether it existed.
func (c *Cache) Delete(name string, qtype domain.RRType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.index(name)
	for p := &c.buckets[idx]; *p != nil; p = &(*p).next {
		if e := *p; e.qtype == qtype && e.domain == name {
			*p = e.next
			c.count--
			return true
		}
	}
	return false
}

// Sweep removes entries in buckets [start, end) whose expiry plus Retention
// has passed, and returns how many were removed.
func (c *Cache) Sweep(start, end int) int {
	if start < 0 {
		start = 0
	}
	if end > len(c.buckets) {
		end = len(c.buckets)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock.Now().Add(-Retention).UnixNano()
	removed := 0
	for i := start; i < end; i++ {
		for p := &c.buckets[i]; *p != nil; {
			if e := *p; e.expiresAt.Load() < cutoff {
				*p = e.next
				removed++
				continue
			}
			p = &(*p).next
		}
	}
	c.count -= removed
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Buckets returns the bucket count.
func (c *Cache) Buckets() int { return len(c.buckets) }
