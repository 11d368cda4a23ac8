// internal/chaos/chaos_test.go
package chaos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gostock/internal/dashboard"
	"gostock/internal/inventory"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type staticProvider struct {
	calls atomic.Int64
}

func (p *staticProvider) FetchEquipment(context.Context) ([]inventory.Equipment, error) {
	p.calls.Add(1)
	return []inventory.Equipment{{
		ID:                "E1",
		Name:              "Projector",
		Status:            inventory.EquipmentAvailable,
		TotalQuantity:     4,
		AvailableQuantity: 3,
		CreatedAt:         t0.Add(-48 * time.Hour),
	}}, nil
}

func (p *staticProvider) FetchActiveCheckouts(context.Context, inventory.CheckoutFilter) ([]inventory.Checkout, error) {
	return []inventory.Checkout{{
		ID:           "C1",
		EquipmentID:  "E1",
		UserID:       "U1",
		CheckoutDate: t0.Add(-24 * time.Hour),
		DueDate:      t0.Add(24 * time.Hour),
		Status:       inventory.CheckoutActive,
	}}, nil
}

func (p *staticProvider) FetchUsers(context.Context) ([]inventory.User, error) {
	return []inventory.User{{ID: "U1", Name: "Ada"}}, nil
}

func TestProviderPassesThrough(t *testing.T) {
	next := &staticProvider{}
	p := NewProvider(next, Fault{}, 1)

	equipment, err := p.FetchEquipment(context.Background())
	require.NoError(t, err)
	assert.Len(t, equipment, 1)
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestProviderInjectsFailures(t *testing.T) {
	next := &staticProvider{}
	p := NewProvider(next, Fault{FailureRate: 1}, 1)

	_, err := p.FetchEquipment(context.Background())
	require.ErrorIs(t, err, ErrInjected)
	_, err = p.FetchActiveCheckouts(context.Background(), inventory.CheckoutFilter{})
	require.ErrorIs(t, err, ErrInjected)
	_, err = p.FetchUsers(context.Background())
	require.ErrorIs(t, err, ErrInjected)
	assert.Zero(t, next.calls.Load(), "failed calls never reach the wrapped provider")

	p.Rollback()
	_, err = p.FetchEquipment(context.Background())
	require.NoError(t, err)
}

func TestProviderLatencyHonoursContext(t *testing.T) {
	p := NewProvider(&staticProvider{}, Fault{Latency: time.Minute}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.FetchUsers(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.Inject(Fault{Latency: 5 * time.Millisecond, Jitter: time.Millisecond})
	start := time.Now()
	_, err = p.FetchUsers(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestThresholdHolds(t *testing.T) {
	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 1, true},
		{"<", 1, false},
		{">=", 2, true},
		{"<=", 1, false},
		{"==", 2, true},
		{"!=", 2, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Threshold{Operator: tc.op, Value: tc.value}.holds(2), tc.op)
	}
}

func TestRunnerHypothesisHeld(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	var injected, rolledBack atomic.Bool

	result, err := r.Run(context.Background(), Experiment{
		Name: "constant",
		SteadyState: []Metric{{
			Name:      "value",
			Query:     func(context.Context) (float64, error) { return 1, nil },
			Threshold: Threshold{Operator: "==", Value: 1},
		}},
		Inject:   func(context.Context) error { injected.Store(true); return nil },
		Rollback: func(context.Context) error { rolledBack.Store(true); return nil },
		Duration: 50 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld)
	assert.Empty(t, result.Violations)
	assert.NotEmpty(t, result.Observations["value"])
	assert.True(t, injected.Load())
	assert.True(t, rolledBack.Load())
	assert.Len(t, r.Results(), 1)
}

func TestRunnerRecordsViolationsAndRecovery(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	var samples atomic.Int64

	result, err := r.Run(context.Background(), Experiment{
		Name: "blip",
		SteadyState: []Metric{{
			Name: "errors",
			Query: func(context.Context) (float64, error) {
				// steady-state check, one breach, then recovery
				if samples.Add(1) == 2 {
					return 1, nil
				}
				return 0, nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Duration: 80 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "errors", result.Violations[0].Metric)
	require.NotNil(t, result.MTTR)
}

func TestRunnerRejectsUnsteadyStart(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	injected := false

	_, err := r.Run(context.Background(), Experiment{
		Name: "broken",
		SteadyState: []Metric{{
			Name:      "query",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("unreachable") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Inject:   func(context.Context) error { injected = true; return nil },
		Duration: time.Second,
	})
	require.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, injected)
	assert.Empty(t, r.Results())
}

func newTarget(t *testing.T, provider *Provider) dashboard.Service {
	t.Helper()
	engine := dashboard.NewEngine(provider, nil, dashboard.EngineOptions{
		Now:    func() time.Time { return t0 },
		Logger: zerolog.Nop(),
	})
	scheduler := dashboard.NewScheduler(engine, dashboard.SchedulerOptions{Logger: zerolog.Nop()})
	svc := dashboard.NewService(engine, scheduler)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.TriggerRefresh(context.Background(), dashboard.ModeExplicit))
	return svc
}

func TestSnapshotOutageExperiment(t *testing.T) {
	provider := NewProvider(&staticProvider{}, Fault{}, 7)
	svc := newTarget(t, provider)
	require.Equal(t, 3, svc.Counters().AvailableEquipment)

	exp := SnapshotOutage(svc, provider, 60*time.Millisecond)
	exp.Interval = 10 * time.Millisecond
	result, err := NewRunner(zerolog.Nop()).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, "violations: %+v", result.Violations)

	assert.NoError(t, svc.TriggerRefresh(context.Background(), dashboard.ModeExplicit), "rolled back")
}

func TestSnapshotLatencyExperiment(t *testing.T) {
	provider := NewProvider(&staticProvider{}, Fault{}, 7)
	svc := newTarget(t, provider)

	exp := SnapshotLatency(svc, provider, 2*time.Millisecond, time.Second, 60*time.Millisecond)
	exp.Interval = 20 * time.Millisecond
	result, err := NewRunner(zerolog.Nop()).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, "violations: %+v", result.Violations)
	assert.NotEmpty(t, result.Observations["explicit_refresh_ms"])
}
