// internal/dashboard/engine.go
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gostock/internal/inventory"
	"gostock/internal/notifications"
)

// EngineOptions configures an Engine. Zero values pick defaults.
type EngineOptions struct {
	Rules  notifications.Rules
	Now    func() time.Time
	Logger zerolog.Logger
}

// Engine runs derivation passes: it fetches snapshots, folds them into
// counters, derives notification candidates and reconciles them into the
// store. It owns the counters of the last applied pass; the unread count is
// read from the store on demand so read-state changes never race a pass.
type Engine struct {
	provider inventory.Provider
	store    *notifications.Store
	rules    notifications.Rules
	now      func() time.Time
	logger   zerolog.Logger
	tracer   trace.Tracer

	counters  atomic.Pointer[Counters]
	available atomic.Bool

	subsMu  sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
}

// Pass is the computed, not yet applied, result of one derivation pass.
type Pass struct {
	ID         string
	At         time.Time
	Counters   Counters
	Candidates []notifications.Item
	Anomalies  []Anomaly
	// DeriveErr is set when counters were computed but the notification
	// rules failed. Applying such a pass keeps the previous feed and marks
	// notifications unavailable.
	DeriveErr error
}

type subscription struct {
	filter notifications.Filter
	ch     chan []notifications.Item
}

func NewEngine(provider inventory.Provider, store *notifications.Store, opts EngineOptions) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = notifications.NewStore()
	}
	e := &Engine{
		provider: provider,
		store:    store,
		rules:    opts.Rules,
		now:      opts.Now,
		logger:   opts.Logger.With().Str("component", "engine").Logger(),
		tracer:   otel.Tracer("gostock/dashboard"),
		subs:     make(map[uint64]*subscription),
	}
	e.counters.Store(&Counters{})
	e.available.Store(true)
	return e
}

// Compute fetches fresh snapshots and derives counters and candidates
// without touching published state. Fetch and validation failures are
// returned as errors; a rule failure is carried in Pass.DeriveErr.
func (e *Engine) Compute(ctx context.Context) (*Pass, error) {
	pass := &Pass{ID: uuid.NewString()}
	ctx, span := e.tracer.Start(ctx, "dashboard.pass", trace.WithAttributes(attribute.String("pass.id", pass.ID)))
	defer span.End()

	snap, err := e.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
		return nil, err
	}

	pass.At = e.now()
	counters, anomalies, err := Aggregate(snap, pass.At, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
		return nil, err
	}
	pass.Counters = counters
	pass.Anomalies = anomalies

	candidates, err := notifications.Derive(snap, pass.At, e.rules)
	if err != nil {
		span.RecordError(err)
		pass.DeriveErr = err
	}
	pass.Candidates = candidates

	span.SetAttributes(
		attribute.Int("equipment.count", len(snap.Equipment)),
		attribute.Int("checkouts.count", len(snap.Checkouts)),
		attribute.Int("candidates.count", len(candidates)),
	)
	return pass, nil
}

func (e *Engine) fetch(ctx context.Context) (*inventory.Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "dashboard.fetch")
	defer span.End()

	equipment, err := e.provider.FetchEquipment(ctx)
	if err != nil {
		return nil, fetchError("equipment", err)
	}
	checkouts, err := e.provider.FetchActiveCheckouts(ctx, inventory.CheckoutFilter{})
	if err != nil {
		return nil, fetchError("checkouts", err)
	}
	users, err := e.provider.FetchUsers(ctx)
	if err != nil {
		return nil, fetchError("users", err)
	}
	return &inventory.Snapshot{
		Equipment: equipment,
		Checkouts: checkouts,
		Users:     users,
		FetchedAt: e.now(),
	}, nil
}

func fetchError(what string, err error) error {
	if errors.Is(err, inventory.ErrMalformedSnapshot) {
		return fmt.Errorf("fetch %s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrSnapshotFetch, what, err)
}

// Apply publishes a computed pass: the feed is reconciled first, then the
// pass counters are swapped in whole.
// It returns the pass's derivation error, if any.
func (e *Engine) Apply(p *Pass) error {
	for _, a := range p.Anomalies {
		e.logger.Warn().
			Str("pass_id", p.ID).
			Str("equipment_id", a.EquipmentID).
			Int("total_quantity", a.TotalQuantity).
			Int("available_quantity", a.AvailableQuantity).
			Msg("equipment quantities out of range")
	}

	if p.DeriveErr != nil {
		e.available.Store(false)
		e.logger.Error().Err(p.DeriveErr).Str("pass_id", p.ID).Msg("notifications unavailable for this pass")
	} else {
		e.store.Reconcile(p.Candidates)
		e.available.Store(true)
	}

	counters := p.Counters
	counters.UnreadNotifications = 0
	e.counters.Store(&counters)
	e.publish()
	return p.DeriveErr
}

// Refresh computes and applies a pass in one go.
func (e *Engine) Refresh(ctx context.Context) error {
	p, err := e.Compute(ctx)
	if err != nil {
		return err
	}
	return e.Apply(p)
}

// Counters returns the last applied pass counters with the current unread
// count.
func (e *Engine) Counters() Counters {
	counters := *e.counters.Load()
	counters.UnreadNotifications = e.store.UnreadCount()
	return counters
}

// NotificationsAvailable is false after a pass whose rules failed.
func (e *Engine) NotificationsAvailable() bool {
	return e.available.Load()
}

// Notifications returns a lazy, restartable view of the feed.
func (e *Engine) Notifications(f notifications.Filter) iter.Seq[notifications.Item] {
	return e.store.Filter(f.Predicate())
}

func (e *Engine) MarkRead(id string) error {
	if err := e.store.MarkRead(id); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) MarkAllRead() int {
	n := e.store.MarkAllRead()
	e.publish()
	return n
}

func (e *Engine) Dismiss(id string) error {
	if err := e.store.Dismiss(id); err != nil {
		return err
	}
	e.publish()
	return nil
}

// Subscribe delivers the filtered feed now and again after every change
// until ctx is done. Slow readers only ever see the latest feed.
func (e *Engine) Subscribe(ctx context.Context, f notifications.Filter) <-chan []notifications.Item {
	sub := &subscription{filter: f, ch: make(chan []notifications.Item, 1)}

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = sub
	sub.ch <- e.store.Items(f)
	e.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subsMu.Lock()
		delete(e.subs, id)
		close(sub.ch)
		e.subsMu.Unlock()
	}()
	return sub.ch
}

// Subscribers reports the number of live subscriptions.
func (e *Engine) Subscribers() int {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	return len(e.subs)
}

func (e *Engine) publish() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, sub := range e.subs {
		items := e.store.Items(sub.filter)
		select {
		case sub.ch <- items:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- items
		}
	}
}
