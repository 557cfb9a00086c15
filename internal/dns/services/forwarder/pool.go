package forwarder

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/metrics"
)

const (
	DefaultPoolWorkers = 4
	DefaultPoolQueue   = 4096
)

// Job is one query handed to the forwarding workers.
type Job struct {
	Name  string
	QType domain.RRType
	Query []byte
	// TCP selects the length-prefixed upstream path without caching.
	TCP bool
	// Reply receives the response. It is not called for unresolved queries.
	Reply func(resp []byte)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers   int
	QueueSize int
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

// Resolver is the forwarding capability a Pool drives.
type Resolver interface {
	Resolve(ctx context.Context, name string, qtype domain.RRType, query []byte) ([]byte, Source, error)
	ResolveTCP(ctx context.Context, name string, query []byte) ([]byte, error)
}

// Pool runs a fixed set of forwarding workers over a bounded job queue so
// that blocking upstream I/O never runs on a query-processing core.
type Pool struct {
	resolver Resolver
	jobs     chan Job
	workers  int
	logger   log.Logger
	metrics  *metrics.Metrics
	dropLog  rate.Sometimes
}

// NewPool returns a Pool around r.
func NewPool(r Resolver, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultPoolWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultPoolQueue
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	return &Pool{
		resolver: r,
		jobs:     make(chan Job, opts.QueueSize),
		workers:  opts.Workers,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		dropLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Submit enqueues job without blocking. It returns false and counts a drop
// when the queue is full.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.metrics.ForwardDrops.Inc()
		p.dropLog.Do(func() {
			p.logger.Warn(map[string]any{"domain": job.Name, "queue": cap(p.jobs)}, "forwarding queue full, dropping query")
		})
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.handle(ctx, job)
		}
	}
}

func (p *Pool) handle(ctx context.Context, job Job) {
	var (
		resp []byte
		err  error
	)
	if job.TCP {
		resp, err = p.resolver.ResolveTCP(ctx, job.Name, job.Query)
	} else {
		resp, _, err = p.resolver.Resolve(ctx, job.Name, job.QType, job.Query)
	}
	if err != nil {
		if !errors.Is(err, ErrUnresolved) {
			p.logger.Error(map[string]any{"domain": job.Name, "error": err.Error()}, "forwarding failed")
		}
		return
	}
	if job.Reply != nil {
		job.Reply(resp)
	}
}
