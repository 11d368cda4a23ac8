// cmd/chaos/main.go
package main

import (
	"context"
	"os"
	"time"

	"gostock/internal/chaos"
	"gostock/internal/clients"
	"gostock/internal/config"
	"gostock/internal/dashboard"
	"gostock/internal/inventory"
	"gostock/internal/notifications"
	"gostock/internal/storage"
	"gostock/internal/telemetry"
)

const (
	experimentDuration = 10 * time.Second
	defaultLatency     = 250 * time.Millisecond
)

// A resilience game day against a private dashboard engine: the inventory
// source is wrapped in a fault injector and each experiment checks one
// refresh policy while the fault is active.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := telemetry.NewLogger(os.Stderr, "info", "json", "chaos")
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, "chaos")
	ctx := context.Background()

	var source inventory.Provider
	if cfg.Source == config.SourceHTTP {
		source = clients.NewInventoryClient(cfg.InventoryServiceURL, clients.WithMaxTries(1))
	} else {
		dsn := cfg.DatabaseURL
		if cfg.DatabaseDriver == storage.DriverSQLite {
			dsn = storage.SQLiteDSN(dsn)
		}
		db, err := storage.Open(ctx, cfg.DatabaseDriver, dsn)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		source = inventory.NewStore(db)
	}

	faulty := chaos.NewProvider(source, chaos.Fault{}, uint64(time.Now().UnixNano()))
	engine := dashboard.NewEngine(faulty, notifications.NewStore(), dashboard.EngineOptions{Logger: logger})
	svc := dashboard.NewService(engine, dashboard.NewScheduler(engine, dashboard.SchedulerOptions{Logger: logger}))
	defer svc.Close()

	if err := svc.TriggerRefresh(ctx, dashboard.ModeExplicit); err != nil {
		logger.Fatal().Err(err).Msg("baseline refresh failed")
	}

	latency := cfg.ChaosLatency
	if latency <= 0 {
		latency = defaultLatency
	}
	runner := chaos.NewRunner(logger)
	experiments := []chaos.Experiment{
		chaos.SnapshotOutage(svc, faulty, experimentDuration),
		chaos.SnapshotLatency(svc, faulty, latency, 10*latency, experimentDuration),
	}

	failed := false
	for _, exp := range experiments {
		logger.Info().Str("experiment", exp.Name).Str("hypothesis", exp.Hypothesis).Msg("starting experiment")
		result, err := runner.Run(ctx, exp)
		if err != nil {
			logger.Error().Err(err).Str("experiment", exp.Name).Msg("experiment aborted")
			failed = true
			continue
		}
		if !result.HypothesisHeld {
			failed = true
			for _, v := range result.Violations {
				logger.Warn().
					Str("experiment", exp.Name).
					Str("metric", v.Metric).
					Float64("expected", v.Expected).
					Float64("actual", v.Actual).
					Msg("violation")
			}
		}
	}
	if failed {
		os.Exit(1)
	}
}
