package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valbows/domo-webhooks/internal/broadcast"
	"github.com/valbows/domo-webhooks/internal/config"
	"github.com/valbows/domo-webhooks/internal/httpserver"
	"github.com/valbows/domo-webhooks/internal/ingest"
	"github.com/valbows/domo-webhooks/internal/ledger"
	"github.com/valbows/domo-webhooks/internal/logging"
	"github.com/valbows/domo-webhooks/internal/metrics"
	"github.com/valbows/domo-webhooks/internal/provider"
	"github.com/valbows/domo-webhooks/internal/store"
)

// main boots the service: config → logger → DB → schema → bus → pipeline → HTTP server.
func main() {
	// Load runtime config from environment (DB_URL, TAVUS_*, ...).
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if !cfg.WebhookAuthConfigured() {
		logger.Warn("no webhook secret or token configured, every webhook will be rejected",
			logging.Category(logging.CategoryAuthFailure))
	}

	// Connect to durable storage (Postgres pool or SQLite file).
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// Ensure required tables/indexes exist so a fresh database is enough.
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	m := metrics.New()

	bus, err := newBus(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()
	broadcaster := broadcast.NewBroadcaster(bus, logger, m)

	tavus := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey.Value(), logger,
		provider.WithTimeout(cfg.ProviderTimeout))

	router := ingest.NewRouter(db, broadcaster, tavus, logger, m)
	pipeline := ingest.NewPipeline(ledger.New(db, logger, m), router, logger, m)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: httpserver.NewRouter(cfg, httpserver.Deps{
			Store:       db,
			Pipeline:    pipeline,
			Broadcaster: broadcaster,
			Metrics:     m,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started",
			zap.String("addr", srv.Addr),
			zap.String("db_driver", cfg.DBDriver),
			zap.String("broadcast_driver", cfg.BroadcastDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newBus(cfg config.Config, logger *zap.Logger) (broadcast.Bus, error) {
	if cfg.BroadcastDriver == "nats" {
		return broadcast.DialNATS(cfg.NATSURL, logger)
	}
	return broadcast.NewLocalBus(logger), nil
}
