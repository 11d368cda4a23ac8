// internal/eventstore/watcher.go
package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gostock/internal/dashboard"
)

const defaultBatchSize = 100

// Invalidator receives post-mutation refresh requests.
type Invalidator interface {
	Invalidate(mode dashboard.Mode) <-chan error
}

// NotifyFunc is told the cursor of a poll that saw circulation changes.
type NotifyFunc func(ctx context.Context, cursor int64) error

// InvalidateSilently adapts an Invalidator to a NotifyFunc.
func InvalidateSilently(inv Invalidator) NotifyFunc {
	return func(context.Context, int64) error {
		inv.Invalidate(dashboard.ModeSilent)
		return nil
	}
}

// Watcher tails the event log and notifies once per poll that contains a
// circulation change.
type Watcher struct {
	store     *EventStore
	notify    NotifyFunc
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger

	mu     sync.Mutex
	cursor int64
}

func NewWatcher(store *EventStore, notify NotifyFunc, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		store:     store,
		notify:    notify,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger.With().Str("component", "eventstore").Logger(),
	}
}

// Seek moves the cursor to the newest event so history is ignored.
func (w *Watcher) Seek(ctx context.Context) error {
	id, err := w.store.LatestID(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.cursor = id
	w.mu.Unlock()
	return nil
}

// Cursor is the id of the last event seen.
func (w *Watcher) Cursor() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Poll reads every event past the cursor and notifies once if any of them
// is relevant. It reports whether a notification was sent.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	relevant := false
	for {
		events, err := w.store.StreamEvents(ctx, w.cursor, w.batchSize)
		if err != nil {
			return false, fmt.Errorf("poll events after %d: %w", w.cursor, err)
		}
		for _, e := range events {
			w.cursor = e.ID
			if isCirculationChange(e.EventType) {
				relevant = true
			}
		}
		if len(events) < w.batchSize {
			break
		}
	}

	if !relevant {
		return false, nil
	}
	w.logger.Debug().Int64("cursor", w.cursor).Msg("circulation changed")
	if err := w.notify(ctx, w.cursor); err != nil {
		return true, fmt.Errorf("notify change at %d: %w", w.cursor, err)
	}
	return true, nil
}

// Run seeks to the head of the log and polls until ctx is done. Poll
// failures are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Seek(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("event log poll failed")
			}
		}
	}
}

func isCirculationChange(eventType string) bool {
	switch eventType {
	case ItemCheckedOut, ItemReturned, ItemCopiesUpdated, ItemRemoved:
		return true
	}
	return false
}
