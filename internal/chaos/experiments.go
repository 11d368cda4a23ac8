// internal/chaos/experiments.go
package chaos

import (
	"context"
	"time"

	"gostock/internal/dashboard"
)

// Target is the part of the dashboard service the experiments observe.
type Target interface {
	Counters() dashboard.Counters
	TriggerRefresh(ctx context.Context, mode dashboard.Mode) error
}

// SnapshotOutage fails every provider call and checks that silent
// refreshes neither report an error nor disturb the published counters.
func SnapshotOutage(target Target, provider *Provider, duration time.Duration) Experiment {
	baseline := target.Counters()
	return Experiment{
		Name:       "snapshot-outage",
		Hypothesis: "Silent refreshes keep the last good counters while the inventory service is down",
		SteadyState: []Metric{
			{
				Name: "silent_refresh_errors",
				Query: func(ctx context.Context) (float64, error) {
					if err := target.TriggerRefresh(ctx, dashboard.ModeSilent); err != nil {
						return 1, nil
					}
					return 0, nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "available_equipment",
				Query: func(context.Context) (float64, error) {
					return float64(target.Counters().AvailableEquipment), nil
				},
				Threshold: Threshold{Operator: "==", Value: float64(baseline.AvailableEquipment)},
			},
		},
		Inject: func(context.Context) error {
			provider.Inject(Fault{FailureRate: 1})
			return nil
		},
		Rollback: func(context.Context) error {
			provider.Rollback()
			return nil
		},
		Duration: duration,
	}
}

// SnapshotLatency slows every provider call and checks that an explicit
// refresh still completes within budget.
func SnapshotLatency(target Target, provider *Provider, latency, budget, duration time.Duration) Experiment {
	return Experiment{
		Name:       "snapshot-latency",
		Hypothesis: "Explicit refreshes finish within budget under inventory latency",
		SteadyState: []Metric{
			{
				Name: "explicit_refresh_ms",
				Query: func(ctx context.Context) (float64, error) {
					start := time.Now()
					if err := target.TriggerRefresh(ctx, dashboard.ModeExplicit); err != nil {
						return 0, err
					}
					return float64(time.Since(start).Milliseconds()), nil
				},
				Threshold: Threshold{Operator: "<", Value: float64(budget.Milliseconds())},
			},
		},
		Inject: func(context.Context) error {
			provider.Inject(Fault{Latency: latency, Jitter: latency / 5})
			return nil
		},
		Rollback: func(context.Context) error {
			provider.Rollback()
			return nil
		},
		Duration: duration,
	}
}
