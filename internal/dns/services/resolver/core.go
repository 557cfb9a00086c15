package resolver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/gateways/transport"
	"github.com/haukened/kdns/internal/dns/services/forwarder"
	"github.com/haukened/kdns/internal/dns/services/replication"
)

const (
	DefaultCoreQueue    = 1024
	DefaultIdleInterval = 10 * time.Millisecond
)

// Forwarder accepts queries that are not answered locally.
type Forwarder interface {
	Submit(job forwarder.Job) bool
}

// CoreStats is a snapshot of one core's packet counters.
type CoreStats struct {
	ID        int    `json:"id"`
	Received  uint64 `json:"pkts_rcv"`
	Answered  uint64 `json:"dns_pkts_snd"`
	Forwarded uint64 `json:"pkts_fwd"`
	Dropped   uint64 `json:"pkts_dropped"`
	Applied   uint64 `json:"mutations_applied"`
	Records   int    `json:"domain_num"`
}

// CoreOptions configures a Core.
type CoreOptions struct {
	QueueSize int
	// Idle is how often the replication queue is drained when no packets
	// arrive.
	Idle      time.Duration
	Processor ProcessorOptions
	Forwarder Forwarder
	Logger    log.Logger
}

// Core is one query-processing worker. It owns a replication worker, and
// through it a private record table, and processes packets to completion one
// at a time.
type Core struct {
	id      int
	worker  *replication.Worker
	proc    *Processor
	queue   chan transport.Packet
	idle    time.Duration
	forward Forwarder
	logger  log.Logger

	received  atomic.Uint64
	answered  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
	applied   atomic.Uint64
	records   atomic.Int64
}

// NewCore returns a core bound to worker.
func NewCore(worker *replication.Worker, opts CoreOptions) *Core {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultCoreQueue
	}
	if opts.Idle <= 0 {
		opts.Idle = DefaultIdleInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	opts.Processor.Logger = opts.Logger
	return &Core{
		id:      worker.ID(),
		worker:  worker,
		proc:    NewProcessor(worker.Table(), opts.Processor),
		queue:   make(chan transport.Packet, opts.QueueSize),
		idle:    opts.Idle,
		forward: opts.Forwarder,
		logger:  opts.Logger.With(map[string]any{"core": worker.ID()}),
	}
}

// ID returns the index of the replication worker this core reads from.
func (c *Core) ID() int { return c.id }

// Enqueue offers pkt to the core without blocking.
func (c *Core) Enqueue(pkt transport.Packet) bool {
	select {
	case c.queue <- pkt:
		return true
	default:
		return false
	}
}

// Run processes packets and replication updates until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.idle)
	defer ticker.Stop()
	c.sync()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-c.queue:
			c.sync()
			c.Handle(pkt)
		case <-ticker.C:
			c.sync()
		}
	}
}

// sync applies pending replication mutations to the core's table.
func (c *Core) sync() {
	if n := c.worker.Drain(); n > 0 {
		c.applied.Add(uint64(n))
		c.records.Store(int64(c.worker.Table().Len()))
	}
}

// Handle processes one packet on the calling goroutine.
func (c *Core) Handle(pkt transport.Packet) {
	c.received.Add(1)
	res := c.proc.Process(pkt.Data, pkt.MaxMessage())
	switch res.Action {
	case ActionAnswer:
		if err := pkt.Reply(res.Response); err == nil {
			c.answered.Add(1)
		}
	case ActionForward:
		if c.forward == nil {
			c.reject(pkt)
			return
		}
		job := forwarder.Job{
			Name:  res.Question.Name.Key(),
			QType: res.Question.Type,
			Query: pkt.Data,
			TCP:   pkt.Proto == transport.TransportTCP,
			Reply: func(resp []byte) { _ = pkt.Reply(resp) },
		}
		if c.forward.Submit(job) {
			c.forwarded.Add(1)
			return
		}
		c.dropped.Add(1)
	default:
		c.dropped.Add(1)
	}
}

// reject answers REFUSED when there is nowhere to forward.
func (c *Core) reject(pkt transport.Packet) {
	res := c.proc.fail(pkt.Data, domain.RCodeRefused)
	if res.Action != ActionAnswer {
		c.dropped.Add(1)
		return
	}
	if err := pkt.Reply(res.Response); err == nil {
		c.answered.Add(1)
	}
}

// Stats returns a snapshot of the core's counters.
func (c *Core) Stats() CoreStats {
	return CoreStats{
		ID:        c.id,
		Received:  c.received.Load(),
		Answered:  c.answered.Load(),
		Forwarded: c.forwarded.Load(),
		Dropped:   c.dropped.Load(),
		Applied:   c.applied.Load(),
		Records:   int(c.records.Load()),
	}
}
