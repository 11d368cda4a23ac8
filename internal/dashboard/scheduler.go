// internal/dashboard/scheduler.go
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"gostock/internal/notifications"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	// DefaultInvalidateDelay gives a write made through another subsystem
	// time to become visible to reads before the follow-up pass.
	DefaultInvalidateDelay = 500 * time.Millisecond
	DefaultPassTimeout     = 30 * time.Second
)

// Mode decides whether a trigger's failures reach the caller.
type Mode int

const (
	// ModeSilent logs failures and keeps the previous views.
	ModeSilent Mode = iota
	// ModeExplicit returns failures to the caller.
	ModeExplicit
)

func (m Mode) String() string {
	if m == ModeExplicit {
		return "explicit"
	}
	return "silent"
}

// ParseMode accepts "silent" and "explicit".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "silent":
		return ModeSilent, true
	case "explicit":
		return ModeExplicit, true
	}
	return ModeSilent, false
}

// Trigger names what asked for a pass.
type Trigger string

const (
	TriggerActivate Trigger = "activate"
	TriggerInterval Trigger = "interval"
	TriggerFocus    Trigger = "focus"
	TriggerUser     Trigger = "user"
	// TriggerSilent is a caller-requested background pass.
	TriggerSilent   Trigger = "silent"
	TriggerMutation Trigger = "mutation"
)

// State is the scheduler's pass state.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
)

// Status describes the scheduler for status endpoints.
type Status struct {
	State         State     `json:"state"`
	LastTrigger   Trigger   `json:"last_trigger,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// Runner is the pass the scheduler drives. Engine implements it.
type Runner interface {
	Compute(ctx context.Context) (*Pass, error)
	Apply(p *Pass) error
}

// SchedulerOptions configures a Scheduler. Zero values pick defaults.
type SchedulerOptions struct {
	Interval        time.Duration
	InvalidateDelay time.Duration
	PassTimeout     time.Duration
	Clock           Clock
	// Focus delivers a value whenever the consumer regains attention.
	Focus  <-chan struct{}
	Logger zerolog.Logger
}

// Scheduler keeps the dashboard views fresh. At most one pass runs at a
// time. Silent triggers that arrive while a pass is running are dropped;
// explicit and mutation triggers are queued and served by one follow-up
// pass once the running one finishes.
type Scheduler struct {
	runner          Runner
	interval        time.Duration
	invalidateDelay time.Duration
	passTimeout     time.Duration
	clock           Clock
	focus           <-chan struct{}
	logger          zerolog.Logger

	passes   metric.Int64Counter
	duration metric.Float64Histogram

	mu       sync.Mutex
	started  bool
	stopped  bool
	inFlight bool
	queued   []chan error
	status   Status
	cancel   context.CancelFunc
	baseCtx  context.Context

	debounce        Timer
	debounceMode    Mode
	debounceWaiters []chan error

	wg sync.WaitGroup
}

func NewScheduler(runner Runner, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultRefreshInterval
	}
	if opts.InvalidateDelay <= 0 {
		opts.InvalidateDelay = DefaultInvalidateDelay
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = DefaultPassTimeout
	}
	if opts.Clock == nil {
		opts.Clock = WallClock{}
	}

	meter := otel.Meter("gostock/dashboard")
	passes, _ := meter.Int64Counter("gostock.refresh.passes",
		metric.WithDescription("Refresh passes by trigger and outcome"))
	duration, _ := meter.Float64Histogram("gostock.refresh.duration",
		metric.WithDescription("Refresh pass duration"), metric.WithUnit("ms"))

	return &Scheduler{
		runner:          runner,
		interval:        opts.Interval,
		invalidateDelay: opts.InvalidateDelay,
		passTimeout:     opts.PassTimeout,
		clock:           opts.Clock,
		focus:           opts.Focus,
		logger:          opts.Logger.With().Str("component", "scheduler").Logger(),
		passes:          passes,
		duration:        duration,
		status:          Status{State: StateIdle},
		baseCtx:         context.Background(),
	}
}

// Start runs the activation pass and begins the interval and focus loop.
// Calling it again is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx = context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx, TriggerActivate, ModeSilent)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.trigger(ctx, TriggerInterval, ModeSilent)
		case _, ok := <-s.focus:
			if !ok {
				s.focus = nil
				continue
			}
			s.trigger(ctx, TriggerFocus, ModeSilent)
		}
	}
}

// Stop releases the ticker, the focus listener and any pending
// invalidation. A pass already running is allowed to finish but its result
// is discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	waiters := s.debounceWaiters
	s.debounceWaiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w <- ErrSchedulerStopped
	}
	s.wg.Wait()
}

// Refresh runs an explicit pass for a user action and returns its error.
// If a pass is already running, it waits for a follow-up pass so the caller
// sees data fetched after the click.
func (s *Scheduler) Refresh(ctx context.Context) error {
	return s.trigger(ctx, TriggerUser, ModeExplicit)
}

// Trigger runs a pass with the given mode on behalf of the caller.
func (s *Scheduler) Trigger(ctx context.Context, mode Mode) error {
	if mode == ModeExplicit {
		return s.trigger(ctx, TriggerUser, ModeExplicit)
	}
	return s.trigger(ctx, TriggerSilent, ModeSilent)
}

// Focus reports that the consumer regained attention. The silent pass runs
// in the background.
func (s *Scheduler) Focus() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.trigger(s.baseCtx, TriggerFocus, ModeSilent)
	}()
}

// Invalidate schedules a pass after the invalidation delay, restarting the
// delay if one is already pending. The returned channel receives the pass
// result, or nil for silent invalidations.
func (s *Scheduler) Invalidate(mode Mode) <-chan error {
	ch := make(chan error, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		ch <- ErrSchedulerStopped
		return ch
	}
	s.debounceWaiters = append(s.debounceWaiters, ch)
	if mode == ModeExplicit {
		s.debounceMode = ModeExplicit
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = s.clock.AfterFunc(s.invalidateDelay, s.fireInvalidation)
	return ch
}

func (s *Scheduler) fireInvalidation() {
	s.mu.Lock()
	if s.stopped || len(s.debounceWaiters) == 0 {
		s.mu.Unlock()
		return
	}
	waiters, mode := s.debounceWaiters, s.debounceMode
	s.debounceWaiters, s.debounceMode, s.debounce = nil, ModeSilent, nil
	s.wg.Add(1)
	ctx := s.baseCtx
	s.mu.Unlock()

	defer s.wg.Done()
	err := s.trigger(ctx, TriggerMutation, mode)
	for _, w := range waiters {
		w <- err
	}
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) trigger(ctx context.Context, trig Trigger, mode Mode) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	if s.inFlight {
		if mode == ModeSilent && trig != TriggerMutation {
			s.mu.Unlock()
			s.logger.Debug().Str("trigger", string(trig)).Msg("pass in flight, trigger dropped")
			return nil
		}
		ch := make(chan error, 1)
		s.queued = append(s.queued, ch)
		s.mu.Unlock()

		select {
		case err := <-ch:
			return s.surface(trig, mode, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.inFlight = true
	s.status.State = StateRefreshing
	s.mu.Unlock()

	err := s.runPass(ctx, trig)
	s.finish(trig, err)
	return s.surface(trig, mode, err)
}

// finish records the result of the pass just run and, while triggers were
// queued behind it, runs one follow-up pass per batch of waiters.
func (s *Scheduler) finish(trig Trigger, err error) {
	for {
		s.mu.Lock()
		s.record(trig, err)
		waiters := s.queued
		s.queued = nil
		if len(waiters) == 0 || s.stopped {
			s.inFlight = false
			s.status.State = StateIdle
			s.mu.Unlock()
			for _, w := range waiters {
				w <- ErrSchedulerStopped
			}
			return
		}
		ctx := s.baseCtx
		s.mu.Unlock()

		trig = TriggerUser
		err = s.runPass(ctx, trig)
		for _, w := range waiters {
			w <- err
		}
	}
}

func (s *Scheduler) record(trig Trigger, err error) {
	s.status.LastTrigger = trig
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.LastError = ""
	s.status.LastRefreshAt = s.clock.Now()
}

func (s *Scheduler) runPass(ctx context.Context, trig Trigger) error {
	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.passTimeout)
	defer cancel()

	start := s.clock.Now()
	pass, err := s.runner.Compute(passCtx)
	if err == nil {
		s.mu.Lock()
		if s.stopped {
			err = ErrSchedulerStopped
		} else {
			err = s.runner.Apply(pass)
		}
		s.mu.Unlock()
	}
	elapsed := s.clock.Now().Sub(start)

	attrs := metric.WithAttributes(
		attribute.String("trigger", string(trig)),
		attribute.String("outcome", errorKind(err)),
	)
	s.passes.Add(passCtx, 1, attrs)
	s.duration.Record(passCtx, float64(elapsed.Milliseconds()), attrs)

	ev := s.logger.Debug()
	if pass != nil {
		ev = ev.Str("pass_id", pass.ID)
	}
	ev.Str("trigger", string(trig)).Dur("elapsed", elapsed).Str("outcome", errorKind(err)).Msg("refresh pass finished")
	return err
}

// surface applies the error policy: explicit callers get every failure,
// silent callers get none, but derivation bugs are always logged at error
// level.
func (s *Scheduler) surface(trig Trigger, mode Mode, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSchedulerStopped) {
		return err
	}
	internal := errors.Is(err, notifications.ErrDerivationInternal)
	switch {
	case internal || mode == ModeExplicit:
		s.logger.Error().Err(err).Str("trigger", string(trig)).Str("mode", mode.String()).Msg("refresh failed")
	default:
		s.logger.Warn().Err(err).Str("trigger", string(trig)).Msg("silent refresh failed, keeping previous views")
	}
	if mode == ModeExplicit {
		return err
	}
	return nil
}
