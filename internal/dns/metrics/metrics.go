// Package metrics defines the prometheus counters exported by kdns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kdns"

// Metrics holds every kdns counter.
type Metrics struct {
	// CacheLookups counts forward cache lookups by status.
	CacheLookups *prometheus.CounterVec
	// UpstreamFailures counts resolutions where every upstream failed.
	UpstreamFailures prometheus.Counter
	// Forwards counts forwarded queries by payload source.
	Forwards *prometheus.CounterVec
	// ForwardDrops counts queries dropped because the forwarding queue was full.
	ForwardDrops prometheus.Counter
	// ReplicationDrops counts mutation clones dropped per destination worker.
	ReplicationDrops *prometheus.CounterVec
	// ReplicationRejects counts mutations rejected by the administrative table.
	ReplicationRejects prometheus.Counter
	// DispatchDrops counts packets dropped because a core queue was full.
	DispatchDrops prometheus.Counter
	// Responses counts authoritative responses by rcode.
	Responses *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_cache_lookups_total",
			Help:      "Forward cache lookups by result status.",
		}, []string{"status"}),
		UpstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Forward resolutions where every upstream server failed.",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Forwarded queries by payload source.",
		}, []string{"source"}),
		ForwardDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_queue_drops_total",
			Help:      "Queries dropped because the forwarding queue was full.",
		}),
		ReplicationDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_drops_total",
			Help:      "Mutation clones dropped because a worker queue was full or absent.",
		}, []string{"worker"}),
		ReplicationRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_rejects_total",
			Help:      "Mutations rejected by the administrative table.",
		}),
		DispatchDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_drops_total",
			Help:      "Packets dropped because a core queue was full.",
		}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Authoritative responses by rcode.",
		}, []string{"rcode"}),
	}
	reg.MustRegister(
		m.CacheLookups,
		m.UpstreamFailures,
		m.Forwards,
		m.ForwardDrops,
		m.ReplicationDrops,
		m.ReplicationRejects,
		m.DispatchDrops,
		m.Responses,
	)
	return m
}

// NewUnregistered returns counters bound to a private registry. Intended for
// tests and components constructed without a metrics sink.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the metrics gathered by g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
