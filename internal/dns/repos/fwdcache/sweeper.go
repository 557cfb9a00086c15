package fwdcache

import (
	"context"
	"time"

	"github.com/haukened/kdns/internal/dns/common/log"
)

const (
	// SweepInterval is the pause between sweep steps.
	SweepInterval = 600 * time.Second
	// SweepShard is the number of buckets visited per step.
	SweepShard = 0xFFFF
)

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval time.Duration
	Shard    int
	Logger   log.Logger
}

// Sweeper walks the cache one shard per interval, wrapping at the end of the
// bucket array, so one full pass spans several intervals on large tables.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	shard    int
	next     int
	logger   log.Logger
}

// NewSweeper returns a sweeper for c.
func NewSweeper(c *Cache, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = SweepInterval
	}
	if opts.Shard <= 0 {
		opts.Shard = SweepShard
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Sweeper{
		cache:    c,
		interval: opts.Interval,
		shard:    opts.Shard,
		logger:   opts.Logger,
	}
}

// Step sweeps the next shard and returns the number of entries removed.
func (s *Sweeper) Step() int {
	start := s.next
	end := start + s.shard
	if end >= s.cache.Buckets() {
		end = s.cache.Buckets()
		s.next = 0
	} else {
		s.next = end
	}
	removed := s.cache.Sweep(start, end)
	s.logger.Debug(map[string]any{
		"start":   start,
		"end":     end,
		"removed": removed,
		"entries": s.cache.Len(),
	}, "forward cache sweep")
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}
