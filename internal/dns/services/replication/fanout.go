// Package replication propagates authoritative record mutations from the
// coordinating side to every worker core's private record table through
// bounded per-worker queues.
package replication

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/metrics"
	"github.com/haukened/kdns/internal/dns/repos/recordtable"
)

const (
	// DefaultQueueSize bounds the coordinator queue and each worker queue.
	DefaultQueueSize = 65536
	// DefaultMaxRecords caps the administrative table.
	DefaultMaxRecords = 2048000
	// maxRecordsHeadroom is how far below MaxRecords adds start being rejected.
	maxRecordsHeadroom = 100
	// DefaultPollInterval is how often Run drains when no wakeup arrives.
	DefaultPollInterval = 10 * time.Millisecond
)

var (
	ErrQueueFull = errors.New("replication: coordinator queue full")
	ErrNilTable  = errors.New("replication: administrative table is required")
)

// Options configures a Fanout.
type Options struct {
	// Admin is the shared administrative table the coordinator writes to.
	Admin      *recordtable.Shared
	QueueSize  int
	MaxRecords int
	Logger     log.Logger
	Metrics    *metrics.Metrics
}

// Fanout is the coordinator. Mutations submitted to it are cloned onto every
// registered worker's queue and then applied to the administrative table.
type Fanout struct {
	inbound    chan *domain.Mutation
	wake       chan struct{}
	mu         sync.RWMutex
	workers    []*Worker
	admin      *recordtable.Shared
	queueSize  int
	maxRecords int
	logger     log.Logger
	metrics    *metrics.Metrics
	dropLog    rate.Sometimes
}

// New returns a Fanout with no workers.
func New(opts Options) (*Fanout, error) {
	if opts.Admin == nil {
		return nil, ErrNilTable
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	return &Fanout{
		inbound:    make(chan *domain.Mutation, opts.QueueSize),
		wake:       make(chan struct{}, 1),
		admin:      opts.Admin,
		queueSize:  opts.QueueSize,
		maxRecords: opts.MaxRecords,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		dropLog:    rate.Sometimes{First: 10, Interval: 10 * time.Second},
	}, nil
}

// Register creates a worker that owns table and receives every mutation
// drained after this call.
func (f *Fanout) Register(table *recordtable.Table) *Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &Worker{
		id:    len(f.workers),
		queue: make(chan *domain.Mutation, f.queueSize),
		table: table,
	}
	f.workers = append(f.workers, w)
	return w
}

// Unregister detaches w. Its slot stays absent and later fanouts skip it.
func (f *Fanout) Unregister(w *Worker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w.id < len(f.workers) && f.workers[w.id] == w {
		f.workers[w.id] = nil
	}
}

// Submit queues m for fanout without blocking.
func (f *Fanout) Submit(m *domain.Mutation) error {
	select {
	case f.inbound <- m:
	default:
		return ErrQueueFull
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

// Drain processes every queued mutation and returns how many were taken off
// the coordinator queue. It never blocks.
func (f *Fanout) Drain() int {
	n := 0
	for {
		select {
		case m := <-f.inbound:
			f.process(m)
			n++
		default:
			return n
		}
	}
}

func (f *Fanout) process(m *domain.Mutation) {
	if m.Action == domain.ActionAdd && f.admin.Len() > f.maxRecords-maxRecordsHeadroom {
		f.metrics.ReplicationRejects.Inc()
		f.logger.Error(map[string]any{
			"limit":  f.maxRecords,
			"domain": m.Domain,
			"host":   m.Host,
		}, "record limit reached, rejecting mutation")
		return
	}

	f.mu.RLock()
	for idx, w := range f.workers {
		if w == nil {
			f.drop(idx, m, "absent")
			continue
		}
		select {
		case w.queue <- m.Clone():
		default:
			f.drop(idx, m, "full")
		}
	}
	f.mu.RUnlock()

	f.admin.Apply(m)
}

func (f *Fanout) drop(idx int, m *domain.Mutation, reason string) {
	f.metrics.ReplicationDrops.WithLabelValues(strconv.Itoa(idx)).Inc()
	f.dropLog.Do(func() {
		f.logger.Error(map[string]any{
			"worker": idx,
			"reason": reason,
			"action": m.Action.String(),
			"domain": m.Domain,
		}, "worker queue unavailable, mutation dropped for this worker")
	})
}

// Run drains on every wakeup and every interval until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.Drain()
			return nil
		case <-f.wake:
			f.Drain()
		case <-ticker.C:
			f.Drain()
		}
	}
}

// Workers returns the number of registered worker slots.
func (f *Fanout) Workers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.workers)
}

// Pending returns the number of mutations waiting on the coordinator queue.
func (f *Fanout) Pending() int { return len(f.inbound) }
