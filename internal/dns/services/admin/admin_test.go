package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/repos/recordtable"
	"github.com/haukened/kdns/internal/dns/services/replication"
	"github.com/haukened/kdns/internal/dns/services/resolver"
)

// MockSubmitter captures submitted mutations.
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(mut *domain.Mutation) error {
	return m.Called(mut).Error(0)
}

type fixedStats []resolver.CoreStats

func (f fixedStats) Stats() []resolver.CoreStats { return f }

func newService(t *testing.T, sub Submitter) (*Service, *recordtable.Shared) {
	t.Helper()
	tbl := recordtable.NewShared(recordtable.New(recordtable.Options{Buckets: 16, Expected: 64}))
	svc, err := New(Options{Fanout: sub, Table: tbl})
	require.NoError(t, err)
	return svc, tbl
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoFanout)
	_, err = New(Options{Fanout: &MockSubmitter{}})
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestService_Mutation(t *testing.T) {
	svc, _ := newService(t, &MockSubmitter{})

	tests := []struct {
		name    string
		req     RecordRequest
		wantErr bool
		check   func(t *testing.T, m *domain.Mutation)
	}{
		{
			name: "A with defaults",
			req:  RecordRequest{Zone: "Example.COM.", Domain: "WWW.example.com", Type: "A", Host: "10.0.0.1"},
			check: func(t *testing.T, m *domain.Mutation) {
				assert.Equal(t, "example.com", m.Zone)
				assert.Equal(t, "www.example.com", m.Domain)
				assert.Equal(t, domain.RRTypeA, m.Type)
				assert.Equal(t, uint32(DefaultTTL), m.TTL)
				assert.Equal(t, domain.DefaultView, m.View)
			},
		},
		{
			name: "CNAME host canonicalised",
			req:  RecordRequest{Zone: "example.com", Domain: "alias.example.com", Type: "CNAME", Host: "Target.Example.com.", TTL: 300, View: "cn"},
			check: func(t *testing.T, m *domain.Mutation) {
				assert.Equal(t, "target.example.com", m.Host)
				assert.Equal(t, uint32(300), m.TTL)
				assert.Equal(t, "cn", m.View)
			},
		},
		{
			name: "SRV with port",
			req:  RecordRequest{Zone: "example.com", Domain: "_sip._udp.example.com", Type: "SRV", Host: "sip.example.com", Priority: 1, Weight: 2, Port: 5060},
			check: func(t *testing.T, m *domain.Mutation) {
				assert.Equal(t, uint16(5060), m.Port)
				assert.Equal(t, uint16(1), m.Priority)
			},
		},
		{name: "SRV without port", req: RecordRequest{Zone: "example.com", Domain: "_sip._udp.example.com", Type: "SRV", Host: "sip.example.com"}, wantErr: true},
		{name: "A with IPv6 host", req: RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "::1"}, wantErr: true},
		{name: "A with name host", req: RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "web.example.com"}, wantErr: true},
		{name: "PTR with bad host", req: RecordRequest{Zone: "example.com", Domain: "1.0.0.10.in-addr.arpa", Type: "PTR", Host: "a..b"}, wantErr: true},
		{name: "unsupported type", req: RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "MX", Host: "mail.example.com"}, wantErr: true},
		{name: "missing zone", req: RecordRequest{Domain: "www.example.com", Type: "A", Host: "10.0.0.1"}, wantErr: true},
		{name: "root domain", req: RecordRequest{Zone: "example.com", Domain: ".", Type: "A", Host: "10.0.0.1"}, wantErr: true},
		{name: "negative max answer", req: RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "10.0.0.1", MaxAnswer: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := svc.Mutation(domain.ActionAdd, tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ActionAdd, m.Action)
			tt.check(t, m)
		})
	}
}

func TestService_AddDeleteSubmit(t *testing.T) {
	sub := &MockSubmitter{}
	sub.On("Submit", mock.MatchedBy(func(m *domain.Mutation) bool { return m.Action == domain.ActionAdd })).Return(nil).Once()
	sub.On("Submit", mock.MatchedBy(func(m *domain.Mutation) bool { return m.Action == domain.ActionDelete })).Return(replication.ErrQueueFull).Once()
	svc, _ := newService(t, sub)

	req := RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "10.0.0.1"}
	assert.NoError(t, svc.Add(req))
	assert.ErrorIs(t, svc.Delete(req), replication.ErrQueueFull)
	assert.ErrorIs(t, svc.Add(RecordRequest{}), ErrInvalidRecord)
	sub.AssertExpectations(t)
}

func TestService_EndToEndWithFanout(t *testing.T) {
	admin := recordtable.NewShared(recordtable.New(recordtable.Options{Buckets: 16, Expected: 64}))
	fan, err := replication.New(replication.Options{Admin: admin})
	require.NoError(t, err)
	worker := fan.Register(recordtable.New(recordtable.Options{Buckets: 16, Expected: 64}))

	svc, err := New(Options{Fanout: fan, Table: admin, Cores: fixedStats{{ID: 0, Received: 7}}})
	require.NoError(t, err)

	require.NoError(t, svc.Add(RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "10.0.0.1"}))
	require.NoError(t, svc.Add(RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "10.0.0.2"}))
	assert.Equal(t, 2, svc.Stats().Pending)
	fan.Drain()
	worker.Drain()

	assert.Equal(t, 2, svc.Count())
	assert.Len(t, svc.Records(), 2)
	assert.Len(t, svc.Record("WWW.EXAMPLE.COM."), 2)
	assert.Equal(t, 2, worker.Table().Len())

	require.NoError(t, svc.Delete(RecordRequest{Zone: "example.com", Domain: "www.example.com", Type: "A", Host: "10.0.0.1"}))
	fan.Drain()
	worker.Drain()
	assert.Equal(t, 1, svc.Count())
	assert.Equal(t, 1, worker.Table().Len())

	stats := svc.Stats()
	assert.Equal(t, StatusInit, stats.Status)
	assert.Equal(t, 1, stats.Records)
	require.Len(t, stats.Cores, 1)
	assert.Equal(t, uint64(7), stats.Cores[0].Received)
}

func TestService_Status(t *testing.T) {
	svc, _ := newService(t, &MockSubmitter{})
	assert.Equal(t, StatusInit, svc.Status())
	svc.SetRunning()
	assert.Equal(t, StatusRunning, svc.Status())
}

func TestService_Seed(t *testing.T) {
	sub := &MockSubmitter{}
	sub.On("Submit", mock.Anything).Return(replication.ErrQueueFull).Once()
	sub.On("Submit", mock.Anything).Return(nil)
	svc, _ := newService(t, sub)

	muts := []*domain.Mutation{
		{Zone: "example.com", Domain: "www.example.com", Type: domain.RRTypeA, Host: "10.0.0.1"},
		{Zone: "example.com", Domain: "bad.example.com", Type: domain.RRTypeA, Host: "not-an-ip"},
		{Zone: "example.com", Domain: "alias.example.com", Type: domain.RRTypeCNAME, Host: "www.example.com", TTL: 60},
	}
	n, err := svc.Seed(context.Background(), muts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sub.AssertNumberOfCalls(t, "Submit", 3)

	boom := &MockSubmitter{}
	boom.On("Submit", mock.Anything).Return(errors.New("boom"))
	svc, _ = newService(t, boom)
	_, err = svc.Seed(context.Background(), muts[:1])
	assert.EqualError(t, err, "boom")
}

func TestService_SeedHonoursContext(t *testing.T) {
	sub := &MockSubmitter{}
	sub.On("Submit", mock.Anything).Return(replication.ErrQueueFull)
	svc, _ := newService(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := svc.Seed(ctx, []*domain.Mutation{{Zone: "example.com", Domain: "www.example.com", Type: domain.RRTypeA, Host: "10.0.0.1"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
