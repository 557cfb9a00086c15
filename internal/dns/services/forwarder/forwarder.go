// Package forwarder relays queries for names outside the authoritative zones
// to upstream servers, serving from the forward cache when it can and
// falling back to stale answers when every upstream fails.
package forwarder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/gateways/wire"
	"github.com/haukened/kdns/internal/dns/metrics"
	"github.com/haukened/kdns/internal/dns/repos/fwdcache"
)

// ErrUnresolved is returned when no upstream answered and no stale payload
// was available. The caller sends nothing.
var ErrUnresolved = errors.New("forwarder: unresolved")

var errMissingDependency = errors.New("forwarder: policy, cache and exchanger are required")

// Source says where a resolved payload came from.
type Source uint8

const (
	SourceNone Source = iota
	SourceCache
	SourceUpstream
	SourceStale
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceUpstream:
		return "upstream"
	case SourceStale:
		return "stale"
	default:
		return "none"
	}
}

// Exchanger performs one-shot upstream exchanges with ordered failover.
type Exchanger interface {
	ExchangeUDP(ctx context.Context, servers []string, query []byte) ([]byte, error)
	ExchangeTCP(ctx context.Context, servers []string, query []byte) ([]byte, error)
}

// Cache is the forward cache capability used by the Forwarder.
type Cache interface {
	Lookup(name string, qtype domain.RRType) ([]byte, fwdcache.Status)
	Insert(name string, qtype domain.RRType, payload []byte) error
	Delete(name string, qtype domain.RRType) bool
}

// Options configures a Forwarder.
type Options struct {
	Policy    *Policy
	Cache     Cache
	Exchanger Exchanger
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

// Forwarder resolves queries through the forward cache and upstream servers.
type Forwarder struct {
	policy    *Policy
	cache     Cache
	exchanger Exchanger
	logger    log.Logger
	metrics   *metrics.Metrics
}

// New returns a Forwarder.
func New(opts Options) (*Forwarder, error) {
	if opts.Policy == nil || opts.Cache == nil || opts.Exchanger == nil {
		return nil, errMissingDependency
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	return &Forwarder{
		policy:    opts.Policy,
		cache:     opts.Cache,
		exchanger: opts.Exchanger,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Resolve answers query for (name, qtype). name must be canonical. A fresh
// cache entry is served without network I/O. Otherwise the upstream servers
// selected by the policy are tried in order; a success replaces any stale
// entry, and total failure falls back to the stale payload if there was one.
// The returned payload always carries the query's ID.
func (f *Forwarder) Resolve(ctx context.Context, name string, qtype domain.RRType, query []byte) ([]byte, Source, error) {
	if len(query) < wire.HeaderLen {
		return nil, SourceNone, wire.ErrShortHeader
	}
	id := binary.BigEndian.Uint16(query)

	payload, status := f.cache.Lookup(name, qtype)
	f.metrics.CacheLookups.WithLabelValues(status.String()).Inc()
	if status == fwdcache.Found {
		wire.SetID(payload, id)
		return f.done(payload, SourceCache)
	}

	servers := f.policy.Select(name)
	resp, err := f.exchanger.ExchangeUDP(ctx, servers, query)
	if err == nil {
		if status == fwdcache.Expired {
			f.cache.Delete(name, qtype)
		}
		if cerr := f.cache.Insert(name, qtype, resp); cerr != nil {
			f.logger.Debug(map[string]any{
				"domain": name,
				"qtype":  qtype.String(),
				"size":   len(resp),
				"error":  cerr.Error(),
			}, "upstream answer not cached")
		}
		wire.SetID(resp, id)
		return f.done(resp, SourceUpstream)
	}

	f.metrics.UpstreamFailures.Inc()
	f.logger.Warn(map[string]any{
		"domain":  name,
		"qtype":   qtype.String(),
		"servers": servers,
		"stale":   status == fwdcache.Expired,
		"error":   err.Error(),
	}, "all upstream servers failed")

	if status == fwdcache.Expired {
		wire.SetID(payload, id)
		return f.done(payload, SourceStale)
	}
	f.metrics.Forwards.WithLabelValues(SourceNone.String()).Inc()
	return nil, SourceNone, fmt.Errorf("%w: %s/%s: %v", ErrUnresolved, name, qtype, err)
}

// ResolveTCP relays a query received over TCP to the selected upstream
// servers over TCP. Answers are not cached.
func (f *Forwarder) ResolveTCP(ctx context.Context, name string, query []byte) ([]byte, error) {
	servers := f.policy.Select(name)
	resp, err := f.exchanger.ExchangeTCP(ctx, servers, query)
	if err != nil {
		f.metrics.UpstreamFailures.Inc()
		f.metrics.Forwards.WithLabelValues(SourceNone.String()).Inc()
		return nil, fmt.Errorf("%w: %s over tcp: %v", ErrUnresolved, name, err)
	}
	f.metrics.Forwards.WithLabelValues(SourceUpstream.String()).Inc()
	return resp, nil
}

func (f *Forwarder) done(payload []byte, src Source) ([]byte, Source, error) {
	f.metrics.Forwards.WithLabelValues(src.String()).Inc()
	return payload, src, nil
}
