package resolver

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/gateways/transport"
	"github.com/haukened/kdns/internal/dns/metrics"
)

var ErrNoCores = errors.New("resolver: dispatcher needs at least one core")

// Dispatcher spreads inbound packets over cores by hashing the source
// address, keeping each client flow on one core.
type Dispatcher struct {
	cores   []*Core
	logger  log.Logger
	metrics *metrics.Metrics
	dropLog rate.Sometimes
}

// NewDispatcher returns a transport.Handler feeding cores.
func NewDispatcher(cores []*Core, logger log.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if len(cores) == 0 {
		return nil, ErrNoCores
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Dispatcher{
		cores:   cores,
		logger:  logger,
		metrics: m,
		dropLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// Handle enqueues pkt on its core, dropping it when that core is saturated.
func (d *Dispatcher) Handle(pkt transport.Packet) {
	core := d.pick(pkt)
	if core.Enqueue(pkt) {
		return
	}
	d.metrics.DispatchDrops.Inc()
	d.dropLog.Do(func() {
		d.logger.Warn(map[string]any{"core": core.ID(), "client": addrString(pkt)}, "core queue full, dropping packet")
	})
}

func (d *Dispatcher) pick(pkt transport.Packet) *Core {
	if len(d.cores) == 1 {
		return d.cores[0]
	}
	return d.cores[utils.NameHash(addrString(pkt))%uint64(len(d.cores))]
}

// Stats returns every core's counters.
func (d *Dispatcher) Stats() []CoreStats {
	out := make([]CoreStats, len(d.cores))
	for i, c := range d.cores {
		out[i] = c.Stats()
	}
	return out
}

func addrString(pkt transport.Packet) string {
	if pkt.Src == nil {
		return ""
	}
	return pkt.Src.String()
}

var _ transport.Handler = (*Dispatcher)(nil)
