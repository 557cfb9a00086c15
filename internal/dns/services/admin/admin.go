// Package admin is the administrative intake: it validates record change
// requests, hands them to the replication coordinator, and serves reads of
// the administrative record table.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/repos/recordtable"
	"github.com/haukened/kdns/internal/dns/services/replication"
	"github.com/haukened/kdns/internal/dns/services/resolver"
)

const (
	// DefaultTTL is applied to requests that carry no ttl.
	DefaultTTL = 30

	StatusInit    = "init"
	StatusRunning = "running"
)

var (
	ErrInvalidRecord = errors.New("admin: invalid record")
	ErrNoFanout      = errors.New("admin: replication coordinator is required")
	ErrNoTable       = errors.New("admin: administrative table is required")
)

// RecordRequest is an administrative add or delete of one record.
type RecordRequest struct {
	Zone      string `json:"zoneName" validate:"required,dns_name"`
	Domain    string `json:"domainName" validate:"required,dns_name"`
	View      string `json:"viewName,omitempty"`
	Type      string `json:"type" validate:"required,oneof=A PTR CNAME SRV"`
	Host      string `json:"host" validate:"required"`
	TTL       uint32 `json:"ttl,omitempty"`
	MaxAnswer int    `json:"maxAnswer,omitempty" validate:"gte=0"`
	LBMode    uint8  `json:"lbMode,omitempty"`
	LBWeight  uint16 `json:"lbWeight,omitempty"`
	Priority  uint16 `json:"priority,omitempty"`
	Weight    uint16 `json:"weight,omitempty"`
	Port      uint16 `json:"port,omitempty" validate:"required_if=Type SRV"`
}

// RequestFromMutation converts a stored or seeded record back to a request.
func RequestFromMutation(m *domain.Mutation) RecordRequest {
	return RecordRequest{
		Zone:      m.Zone,
		Domain:    m.Domain,
		View:      m.View,
		Type:      m.Type.String(),
		Host:      m.Host,
		TTL:       m.TTL,
		MaxAnswer: m.MaxAnswer,
		LBMode:    m.LBMode,
		LBWeight:  m.LBWeight,
		Priority:  m.Priority,
		Weight:    m.Weight,
		Port:      m.Port,
	}
}

// Submitter accepts validated mutations for replication.
type Submitter interface {
	Submit(m *domain.Mutation) error
}

// StatsSource reports per-core packet counters.
type StatsSource interface {
	Stats() []resolver.CoreStats
}

// Stats is the administrative status view.
type Stats struct {
	Status  string               `json:"status"`
	Records int                  `json:"domain_num"`
	Pending int                  `json:"pending"`
	Cores   []resolver.CoreStats `json:"cores,omitempty"`
}

// Options configures a Service.
type Options struct {
	Fanout Submitter
	Table  *recordtable.Shared
	Cores  StatsSource
	Logger log.Logger
}

// Service validates and submits record mutations and answers reads.
type Service struct {
	fanout   Submitter
	table    *recordtable.Shared
	cores    StatsSource
	logger   log.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	status  string
	pending func() int
}

// New returns a Service in the init state.
func New(opts Options) (*Service, error) {
	if opts.Fanout == nil {
		return nil, ErrNoFanout
	}
	if opts.Table == nil {
		return nil, ErrNoTable
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	s := &Service{
		fanout:   opts.Fanout,
		table:    opts.Table,
		cores:    opts.Cores,
		logger:   opts.Logger,
		validate: v,
		status:   StatusInit,
	}
	if p, ok := opts.Fanout.(interface{ Pending() int }); ok {
		s.pending = p.Pending
	}
	return s, nil
}

// Mutation validates req and returns the canonical mutation for action.
func (s *Service) Mutation(action domain.Action, req RecordRequest) (*domain.Mutation, error) {
	if err := s.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	m := &domain.Mutation{
		Action:    action,
		Zone:      utils.CanonicalDNSName(req.Zone),
		View:      req.View,
		Domain:    utils.CanonicalDNSName(req.Domain),
		Host:      req.Host,
		Type:      domain.RRTypeFromString(req.Type),
		TTL:       req.TTL,
		MaxAnswer: req.MaxAnswer,
		LBMode:    req.LBMode,
		LBWeight:  req.LBWeight,
		Priority:  req.Priority,
		Weight:    req.Weight,
		Port:      req.Port,
	}
	if m.Type != domain.RRTypeA {
		m.Host = utils.CanonicalDNSName(m.Host)
	}
	if m.TTL == 0 {
		m.TTL = DefaultTTL
	}
	if m.View == "" {
		m.View = domain.DefaultView
	}
	return m, nil
}

// Add validates req and submits it for replication.
func (s *Service) Add(req RecordRequest) error {
	return s.submit(domain.ActionAdd, req)
}

// Delete validates req and submits its removal for replication.
func (s *Service) Delete(req RecordRequest) error {
	return s.submit(domain.ActionDelete, req)
}

func (s *Service) submit(action domain.Action, req RecordRequest) error {
	m, err := s.Mutation(action, req)
	if err != nil {
		s.logger.Warn(map[string]any{"domain": req.Domain, "type": req.Type, "error": err.Error()}, "rejected record request")
		return err
	}
	if err := s.fanout.Submit(m); err != nil {
		return fmt.Errorf("submitting %s %s: %w", action, m.Domain, err)
	}
	s.logger.Debug(map[string]any{
		"action": action.String(),
		"domain": m.Domain,
		"type":   m.Type.String(),
		"host":   m.Host,
	}, "record mutation submitted")
	return nil
}

// Seed submits every mutation as an add, waiting for room while the
// coordinator queue is full. Invalid records are logged and skipped. It
// returns how many were submitted.
func (s *Service) Seed(ctx context.Context, muts []*domain.Mutation) (int, error) {
	n := 0
	for _, seed := range muts {
		m, err := s.Mutation(domain.ActionAdd, RequestFromMutation(seed))
		if err != nil {
			s.logger.Warn(map[string]any{"domain": seed.Domain, "error": err.Error()}, "skipping invalid zone record")
			continue
		}
		for {
			err = s.fanout.Submit(m)
			if !errors.Is(err, replication.ErrQueueFull) {
				break
			}
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Records returns every record in the administrative table.
func (s *Service) Records() []domain.Mutation {
	return s.table.Records()
}

// Record returns the records owned by name.
func (s *Service) Record(name string) []domain.Mutation {
	return s.table.Find(utils.CanonicalDNSName(name))
}

// Count returns the number of records in the administrative table.
func (s *Service) Count() int {
	return s.table.Len()
}

// Status returns "init" until SetRunning is called.
func (s *Service) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetRunning marks the server as running.
func (s *Service) SetRunning() {
	s.mu.Lock()
	s.status = StatusRunning
	s.mu.Unlock()
}

// Stats returns the status, record count and per-core counters.
func (s *Service) Stats() Stats {
	st := Stats{Status: s.Status(), Records: s.Count()}
	if s.pending != nil {
		st.Pending = s.pending()
	}
	if s.cores != nil {
		st.Cores = s.cores.Stats()
	}
	return st
}

// newValidator builds the request validator with the dns_name tag and the
// per-type host rules.
func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("dns_name", validDNSName); err != nil {
		return nil, err
	}
	v.RegisterStructValidation(validateHost, RecordRequest{})
	return v, nil
}

// validDNSName accepts any non-root name that fits the wire limits.
func validDNSName(fl validator.FieldLevel) bool {
	return isDNSName(fl.Field().String())
}

func isDNSName(s string) bool {
	n, err := domain.ParseName(s)
	return err == nil && !n.IsRoot()
}

// validateHost requires an IPv4 host for A records and a name otherwise.
func validateHost(sl validator.StructLevel) {
	req := sl.Current().Interface().(RecordRequest)
	if req.Host == "" {
		return
	}
	switch req.Type {
	case "A":
		if ip := net.ParseIP(req.Host); ip == nil || ip.To4() == nil {
			sl.ReportError(req.Host, "host", "Host", "ipv4", "")
		}
	case "PTR", "CNAME", "SRV":
		if !isDNSName(req.Host) {
			sl.ReportError(req.Host, "host", "Host", "dns_name", "")
		}
	}
}
