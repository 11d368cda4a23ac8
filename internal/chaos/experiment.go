// internal/chaos/experiment.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment is a hypothesis checked by sampling metrics while a fault is
// active.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Inject      func(context.Context) error
	Rollback    func(context.Context) error
	Duration    time.Duration
	Interval    time.Duration
}

// Metric is a measurable property that must stay within Threshold.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

type Violation struct {
	Metric    string    `json:"metric"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

// Result captures one experiment run.
type Result struct {
	Experiment     string               `json:"experiment"`
	StartTime      time.Time            `json:"start_time"`
	EndTime        time.Time            `json:"end_time"`
	HypothesisHeld bool                 `json:"hypothesis_held"`
	Violations     []Violation          `json:"violations"`
	Observations   map[string][]float64 `json:"observations"`
	MTTR           *time.Duration       `json:"mttr,omitempty"`
}

var ErrSteadyStateInvalid = errors.New("chaos: steady state invalid before injection")

// Runner executes experiments and keeps their results.
type Runner struct {
	tracer trace.Tracer
	logger zerolog.Logger

	mu      sync.Mutex
	results []Result
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		tracer: otel.Tracer("gostock/chaos"),
		logger: logger.With().Str("component", "chaos").Logger(),
	}
}

// Run checks the steady state, injects the fault, samples every metric on
// each interval until Duration has passed, rolls back and reports whether
// every sample stayed within its threshold.
func (r *Runner) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	if exp.Interval <= 0 {
		exp.Interval = time.Second
	}
	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]float64),
	}

	if violations := r.sample(ctx, exp.SteadyState, result); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}

	span.AddEvent("injecting")
	if exp.Inject != nil {
		if err := exp.Inject(ctx); err != nil {
			return result, err
		}
	}

	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(exp.Interval)
	defer ticker.Stop()

	var breachedAt time.Time
observe:
	for {
		select {
		case <-observeCtx.Done():
			break observe
		case <-ticker.C:
			violations := r.sample(ctx, exp.SteadyState, result)
			result.Violations = append(result.Violations, violations...)
			switch {
			case len(violations) > 0 && breachedAt.IsZero():
				breachedAt = time.Now()
			case len(violations) == 0 && !breachedAt.IsZero() && result.MTTR == nil:
				mttr := time.Since(breachedAt)
				result.MTTR = &mttr
			}
		}
	}

	span.AddEvent("rolling back")
	if exp.Rollback != nil {
		if err := exp.Rollback(ctx); err != nil {
			span.RecordError(err)
			r.logger.Error().Err(err).Str("experiment", exp.Name).Msg("rollback failed")
		}
	}

	result.HypothesisHeld = len(result.Violations) == 0
	result.EndTime = time.Now()
	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	r.logger.Info().
		Str("experiment", exp.Name).
		Bool("hypothesis_held", result.HypothesisHeld).
		Int("violations", len(result.Violations)).
		Msg("experiment finished")

	r.mu.Lock()
	r.results = append(r.results, *result)
	r.mu.Unlock()
	return result, nil
}

func (r *Runner) sample(ctx context.Context, metrics []Metric, result *Result) []Violation {
	var violations []Violation
	for _, m := range metrics {
		v, err := m.Query(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("metric", m.Name).Msg("metric query failed")
			violations = append(violations, Violation{Metric: m.Name, Expected: m.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		result.Observations[m.Name] = append(result.Observations[m.Name], v)
		if !m.Threshold.holds(v) {
			violations = append(violations, Violation{Metric: m.Name, Expected: m.Threshold.Value, Actual: v, Timestamp: time.Now()})
		}
	}
	return violations
}

// Results returns a copy of every finished run.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}
