package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokligence/streamguard/internal/config"
	"github.com/tokligence/streamguard/internal/health"
	"github.com/tokligence/streamguard/internal/httpserver"
	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/ledger/async"
	"github.com/tokligence/streamguard/internal/ledger/postgres"
	"github.com/tokligence/streamguard/internal/ledger/sqlite"
	"github.com/tokligence/streamguard/internal/logging"
	"github.com/tokligence/streamguard/internal/metrics"
	"github.com/tokligence/streamguard/internal/ratelimit"
	"github.com/tokligence/streamguard/internal/source"
	"github.com/tokligence/streamguard/internal/version"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadDaemonConfig(configRoot)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: true,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting streamguardd",
		zap.String("version", version.Info()),
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.HTTPAddress),
		zap.String("ledger_driver", cfg.LedgerDriver),
	)

	store, db, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close ledger", zap.Error(err))
		}
	}()

	client := &http.Client{}
	upstreams := make([]*source.Upstream, 0, len(cfg.Routes))
	probes := make(map[string]string)
	for _, r := range cfg.Routes {
		u, err := source.NewUpstream(source.UpstreamConfig{
			Name:        r.Name,
			Target:      r.Target,
			StripPrefix: r.StripPrefix,
			Timeout:     r.Timeout,
			Headers:     r.Headers,
			ChunkSize:   cfg.ChunkSize,
		}, client)
		if err != nil {
			return err
		}
		upstreams = append(upstreams, u)
		logger.Info("proxy route", zap.String("name", r.Name), zap.String("target", r.Target))
	}
	for _, target := range cfg.HealthUpstreams {
		probes[target] = target
	}

	var limiter *ratelimit.Limiter
	if cfg.StreamRateLimit > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{StreamsPerSecond: cfg.StreamRateLimit, Burst: cfg.StreamBurst})
		defer limiter.Close()
	}

	collector := metrics.NewCollector()
	srv := httpserver.New(httpserver.Options{
		Logger:      logger,
		Ledger:      store,
		Metrics:     collector,
		Health:      health.New(health.Config{LedgerDB: db, Upstreams: probes}),
		FilesRoot:   cfg.FilesRoot,
		ChunkSize:   cfg.ChunkSize,
		Upstreams:   upstreams,
		Endpoints:   cfg.Endpoints,
		Flush:       cfg.Flush,
		RateLimiter: limiter,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("net/http")),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("address", cfg.HTTPAddress))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			return httpSrv.Close()
		}
		return nil
	})
	return g.Wait()
}

// openLedger opens the configured backend and returns it with its *sql.DB
// for health checks. Async mode wraps the backend in a batching writer.
func openLedger(cfg config.DaemonConfig, logger *zap.Logger) (ledger.Store, *sql.DB, error) {
	var (
		store ledger.Store
		db    *sql.DB
	)
	switch cfg.LedgerDriver {
	case "sqlite":
		s, err := sqlite.New(cfg.LedgerDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		store, db = s, s.DB()
	default:
		s, err := postgres.New(cfg.LedgerDSN, postgres.Options{Driver: cfg.LedgerDriver})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		store, db = s, s.DB()
	}
	if cfg.LedgerAsync {
		store = async.New(store, async.Config{Logger: logger})
	}
	return store, db, nil
}
