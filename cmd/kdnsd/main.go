package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/kdns/internal/dns/common/log"
	"github.com/haukened/kdns/internal/dns/common/utils"
	"github.com/haukened/kdns/internal/dns/config"
	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/gateways/transport"
	"github.com/haukened/kdns/internal/dns/gateways/upstream"
	"github.com/haukened/kdns/internal/dns/gateways/wire"
	"github.com/haukened/kdns/internal/dns/metrics"
	"github.com/haukened/kdns/internal/dns/repos/fwdcache"
	"github.com/haukened/kdns/internal/dns/repos/recordtable"
	"github.com/haukened/kdns/internal/dns/repos/zone"
	"github.com/haukened/kdns/internal/dns/services/admin"
	"github.com/haukened/kdns/internal/dns/services/forwarder"
	"github.com/haukened/kdns/internal/dns/services/replication"
	"github.com/haukened/kdns/internal/dns/services/resolver"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "kdnsd"

	defaultShutdownTimeout = 10 * time.Second
	metricsReadTimeout     = 5 * time.Second
)

// Application holds all the components of the DNS server
type Application struct {
	config     *config.AppConfig
	logger     log.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	zones      []string
	seed       []*domain.Mutation
	fanout     *replication.Fanout
	cores      []*resolver.Core
	dispatcher *resolver.Dispatcher
	pool       *forwarder.Pool
	sweeper    *fwdcache.Sweeper
	admin      *admin.Service
	transports []transport.ServerTransport
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Multi-core authoritative and forwarding DNS server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	})
	return root
}

// serve loads configuration from the environment and runs the server until
// SIGINT or SIGTERM.
func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return err
	}

	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		return err
	}

	log.Info(map[string]any{
		"version":     version,
		"env":         cfg.Env,
		"log_level":   cfg.LogLevel,
		"address":     cfg.Address(),
		"tcp":         cfg.TCP,
		"workers":     cfg.Workers,
		"fwd_workers": cfg.FwdWorkers,
		"fwd_default": cfg.FwdDefault,
		"zone_dir":    cfg.ZoneDir,
	}, "Starting kdns server")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Failed to build application")
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Server failed")
		return err
	}

	log.Info(nil, "kdns server stopped gracefully")
	return nil
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	zones, seed, err := loadZones(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone directory: %w", err)
	}

	pool, sweeper, err := buildForwarding(cfg, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build forwarder: %w", err)
	}

	adminTable := recordtable.NewShared(recordtable.New(recordtable.Options{}))
	fanout, err := replication.New(replication.Options{
		Admin:      adminTable,
		QueueSize:  cfg.QueueSize,
		MaxRecords: cfg.MaxRecords,
		Logger:     logger.With(map[string]any{"component": "replication"}),
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build replication: %w", err)
	}

	rotation := &wire.Rotation{}
	cores := make([]*resolver.Core, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		worker := fanout.Register(recordtable.New(recordtable.Options{}))
		cores = append(cores, resolver.NewCore(worker, resolver.CoreOptions{
			QueueSize: cfg.CoreQueue,
			Processor: resolver.ProcessorOptions{
				Zones:      zones,
				MaxAnswers: cfg.MaxAnswer,
				Rotation:   rotation,
				Metrics:    m,
			},
			Forwarder: pool,
			Logger:    logger.With(map[string]any{"core": worker.ID()}),
		}))
	}

	dispatcher, err := resolver.NewDispatcher(cores, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}

	adminSvc, err := admin.New(admin.Options{
		Fanout: fanout,
		Table:  adminTable,
		Cores:  dispatcher,
		Logger: logger.With(map[string]any{"component": "admin"}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build admin service: %w", err)
	}

	types := []transport.TransportType{transport.TransportUDP}
	if cfg.TCP {
		types = append(types, transport.TransportTCP)
	}
	transports := make([]transport.ServerTransport, 0, len(types))
	for _, tt := range types {
		t, err := transport.NewTransport(tt, cfg.Address(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s transport: %w", tt, err)
		}
		transports = append(transports, t)
	}

	log.Info(map[string]any{
		"zones":   zones,
		"records": len(seed),
		"cores":   len(cores),
	}, "Application built")

	return &Application{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		metrics:    m,
		zones:      zones,
		seed:       seed,
		fanout:     fanout,
		cores:      cores,
		dispatcher: dispatcher,
		pool:       pool,
		sweeper:    sweeper,
		admin:      adminSvc,
		transports: transports,
	}, nil
}

// buildForwarding wires the forward cache, upstream exchanger and worker pool.
func buildForwarding(cfg *config.AppConfig, logger log.Logger, m *metrics.Metrics) (*forwarder.Pool, *fwdcache.Sweeper, error) {
	policy, err := forwarder.ParsePolicy(cfg.FwdZones, cfg.FwdDefault)
	if err != nil {
		return nil, nil, err
	}
	cache := fwdcache.New(fwdcache.Options{Buckets: cfg.CacheBuckets})
	fwd, err := forwarder.New(forwarder.Options{
		Policy:    policy,
		Cache:     cache,
		Exchanger: upstream.NewExchanger(upstream.Options{}),
		Logger:    logger.With(map[string]any{"component": "forwarder"}),
		Metrics:   m,
	})
	if err != nil {
		return nil, nil, err
	}
	pool := forwarder.NewPool(fwd, forwarder.PoolOptions{
		Workers:   cfg.FwdWorkers,
		QueueSize: cfg.FwdQueueSize,
		Logger:    logger,
		Metrics:   m,
	})
	sweeper := fwdcache.NewSweeper(cache, fwdcache.SweeperOptions{Logger: logger})

	log.Info(map[string]any{
		"default": policy.Defaults(),
		"zones":   len(policy.Zones()),
		"buckets": cache.Buckets(),
	}, "Forwarding configured")

	return pool, sweeper, nil
}

// loadZones returns the authoritative zones (configured plus those found in
// the zone directory) and the records to seed.
func loadZones(cfg *config.AppConfig) ([]string, []*domain.Mutation, error) {
	var (
		loaded []string
		seed   []*domain.Mutation
	)
	if cfg.ZoneDir != "" {
		var err error
		loaded, seed, err = zone.LoadDirectory(cfg.ZoneDir, admin.DefaultTTL*time.Second)
		if err != nil {
			return nil, nil, err
		}
	}

	seen := make(map[string]struct{})
	var zones []string
	for _, z := range append(append([]string{}, cfg.Zones...), loaded...) {
		z = utils.CanonicalDNSName(z)
		if z == "" {
			continue
		}
		if _, ok := seen[z]; ok {
			continue
		}
		seen[z] = struct{}{}
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones, seed, nil
}

// Run starts every component, seeds the record tables and serves until ctx
// is cancelled.
func (app *Application) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.fanout.Run(gctx, replication.DefaultPollInterval) })
	for _, core := range app.cores {
		g.Go(func() error { return core.Run(gctx) })
	}
	g.Go(func() error { return app.pool.Run(gctx) })
	g.Go(func() error { return app.sweeper.Run(gctx) })

	if app.config.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              app.config.MetricsAddr,
			Handler:           metrics.Handler(app.registry),
			ReadHeaderTimeout: metricsReadTimeout,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	defer func() {
		cancel()
		for _, t := range app.transports {
			err = multierr.Append(err, t.Stop())
		}
		err = multierr.Append(err, g.Wait())
	}()

	n, seedErr := app.admin.Seed(gctx, app.seed)
	if seedErr != nil && !errors.Is(seedErr, context.Canceled) {
		return fmt.Errorf("failed to seed records: %w", seedErr)
	}
	log.Info(map[string]any{"records": n}, "Zone records submitted")

	for _, t := range app.transports {
		if err := t.Start(gctx, app.dispatcher); err != nil {
			return fmt.Errorf("failed to start transport: %w", err)
		}
		log.Info(map[string]any{"address": t.Address()}, "DNS transport started")
	}
	app.admin.SetRunning()

	<-gctx.Done()
	log.Info(nil, "Shutdown initiated")
	return nil
}
