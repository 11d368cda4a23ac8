// internal/dashboard/implementation.go
package dashboard

import (
	"context"
	"iter"
	"sync"

	"gostock/internal/notifications"
)

type service struct {
	engine    *Engine
	scheduler *Scheduler

	activate sync.Once
}

// NewService ties an engine to the scheduler that drives it.
func NewService(engine *Engine, scheduler *Scheduler) Service {
	return &service{engine: engine, scheduler: scheduler}
}

func (s *service) Counters() Counters {
	return s.engine.Counters()
}

func (s *service) Notifications(f notifications.Filter) iter.Seq[notifications.Item] {
	return s.engine.Notifications(f)
}

func (s *service) Start(ctx context.Context) {
	s.activate.Do(func() {
		s.scheduler.Start(ctx)
	})
}

func (s *service) Subscribe(ctx context.Context, f notifications.Filter) <-chan []notifications.Item {
	ch := s.engine.Subscribe(ctx, f)
	s.Start(context.WithoutCancel(ctx))
	return ch
}

func (s *service) TriggerRefresh(ctx context.Context, mode Mode) error {
	return s.scheduler.Trigger(ctx, mode)
}

func (s *service) Invalidate(mode Mode) <-chan error {
	return s.scheduler.Invalidate(mode)
}

func (s *service) Focus() {
	s.scheduler.Focus()
}

func (s *service) MarkRead(id string) error {
	return s.engine.MarkRead(id)
}

func (s *service) MarkAllRead() int {
	return s.engine.MarkAllRead()
}

func (s *service) Dismiss(id string) error {
	return s.engine.Dismiss(id)
}

func (s *service) Status() Snapshot {
	return Snapshot{
		Counters:               s.engine.Counters(),
		Status:                 s.scheduler.Status(),
		NotificationsAvailable: s.engine.NotificationsAvailable(),
	}
}

func (s *service) Close() {
	s.scheduler.Stop()
}
