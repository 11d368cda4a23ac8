// cmd/inventory/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"gostock/internal/changefeed"
	"gostock/internal/config"
	"gostock/internal/eventstore"
	"gostock/internal/inventory"
	"gostock/internal/storage"
	"gostock/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := telemetry.NewLogger(os.Stderr, "info", "json", "inventory")
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, "inventory")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTELEndpoint, "gostock-inventory")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == storage.DriverSQLite {
		dsn = storage.SQLiteDSN(dsn)
	}
	db, err := storage.Open(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	if cfg.ChangefeedEnabled && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		publisher := changefeed.NewPublisher(client, cfg.ChangefeedChannel)
		watcher := eventstore.NewWatcher(eventstore.NewEventStore(db), publisher.Publish, cfg.ChangefeedInterval, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("event log relay stopped")
			}
		}()
	}

	handler := inventory.NewHandler(inventory.NewStore(db))
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/", handler.Routes())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("port", cfg.Port).Str("driver", cfg.DatabaseDriver).Msg("starting inventory service")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
