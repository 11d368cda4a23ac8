// internal/dashboard/service.go
package dashboard

import (
	"context"
	"iter"

	"gostock/internal/notifications"
)

// Service is the contract exposed to view consumers.
type Service interface {
	// Start activates the scheduler. Subscribe calls it implicitly.
	Start(ctx context.Context)
	// Counters returns the last computed counters without blocking.
	Counters() Counters
	// Notifications is a lazy, restartable view of the current feed.
	Notifications(f notifications.Filter) iter.Seq[notifications.Item]
	// Subscribe delivers the filtered feed after every reconciliation until
	// ctx is done. The first subscription activates the scheduler.
	Subscribe(ctx context.Context, f notifications.Filter) <-chan []notifications.Item
	TriggerRefresh(ctx context.Context, mode Mode) error
	Invalidate(mode Mode) <-chan error
	Focus()
	MarkRead(id string) error
	MarkAllRead() int
	Dismiss(id string) error
	Status() Snapshot
	Close()
}

// Snapshot is the combined engine and scheduler view served by status
// endpoints.
type Snapshot struct {
	Counters
	Status
	NotificationsAvailable bool `json:"notifications_available"`
}
