// cmd/dashboard/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gostock/internal/changefeed"
	"gostock/internal/chaos"
	"gostock/internal/clients"
	"gostock/internal/config"
	"gostock/internal/dashboard"
	"gostock/internal/eventstore"
	"gostock/internal/inventory"
	"gostock/internal/notifications"
	"gostock/internal/storage"
	"gostock/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := telemetry.NewLogger(os.Stderr, "info", "json", "dashboard")
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, "dashboard")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTELEndpoint, "gostock-dashboard")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	provider, events, cleanup, err := buildProvider(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build snapshot provider")
	}
	defer cleanup()

	if cfg.ChaosEnabled() {
		logger.Warn().
			Float64("failure_rate", cfg.ChaosFailureRate).
			Dur("latency", cfg.ChaosLatency).
			Msg("fault injection enabled")
		provider = chaos.NewProvider(provider, chaos.Fault{
			Latency:     cfg.ChaosLatency,
			FailureRate: cfg.ChaosFailureRate,
		}, uint64(time.Now().UnixNano()))
	}

	engine := dashboard.NewEngine(provider, notifications.NewStore(), dashboard.EngineOptions{
		Rules: notifications.Rules{
			DueSoonWindow:         cfg.DueSoonWindow,
			StaleMaintenanceAfter: cfg.StaleMaintenanceAfter,
		},
		Logger: logger,
	})
	scheduler := dashboard.NewScheduler(engine, dashboard.SchedulerOptions{
		Interval:        cfg.RefreshInterval,
		InvalidateDelay: cfg.InvalidateDelay,
		Logger:          logger,
	})
	svc := dashboard.NewService(engine, scheduler)
	defer svc.Close()
	svc.Start(ctx)

	startChangefeed(ctx, cfg, svc, events, logger)

	var limiter *rate.Limiter
	if cfg.ExplicitRefreshRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ExplicitRefreshRPS), cfg.ExplicitRefreshBurst)
	}
	handler := dashboard.NewHandler(svc, limiter, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("port", cfg.Port).Str("source", cfg.Source).Msg("starting dashboard service")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// buildProvider returns the snapshot provider for the configured source.
// The event store is only available when reading the database directly.
func buildProvider(ctx context.Context, cfg config.Config) (inventory.Provider, *eventstore.EventStore, func(), error) {
	if cfg.Source == config.SourceHTTP {
		client := clients.NewInventoryClient(cfg.InventoryServiceURL, clients.WithMaxTries(cfg.FetchMaxTries))
		return client, nil, func() {}, nil
	}

	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == storage.DriverSQLite {
		dsn = storage.SQLiteDSN(dsn)
	}
	db, err := storage.Open(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return inventory.NewStore(db), eventstore.NewEventStore(db), func() { db.Close() }, nil
}

// startChangefeed turns circulation changes into silent invalidations:
// straight from the event log when it is reachable, otherwise from the
// Redis channel the inventory service publishes to.
func startChangefeed(ctx context.Context, cfg config.Config, svc dashboard.Service, events *eventstore.EventStore, logger zerolog.Logger) {
	if !cfg.ChangefeedEnabled {
		return
	}
	switch {
	case events != nil:
		watcher := eventstore.NewWatcher(events, eventstore.InvalidateSilently(svc), cfg.ChangefeedInterval, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("event log watcher stopped")
			}
		}()
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sub := changefeed.NewSubscriber(client, cfg.ChangefeedChannel, svc, logger)
		go func() {
			defer client.Close()
			if err := sub.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("change subscriber stopped")
			}
		}()
	default:
		logger.Warn().Msg("changefeed enabled but neither the event log nor REDIS_ADDR is available")
	}
}
