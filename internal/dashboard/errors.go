// internal/dashboard/errors.go
package dashboard

import (
	"errors"

	"gostock/internal/inventory"
	"gostock/internal/notifications"
)

var (
	// ErrSnapshotFetch wraps failures reaching the inventory data service.
	ErrSnapshotFetch = errors.New("snapshot fetch failed")
	// ErrSchedulerStopped is returned for triggers after the scheduler was torn down.
	ErrSchedulerStopped = errors.New("refresh scheduler stopped")
)

// errorKind names the failure class of a pass for logs and metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inventory.ErrMalformedSnapshot):
		return "malformed_snapshot"
	case errors.Is(err, notifications.ErrDerivationInternal):
		return "derivation_internal"
	case errors.Is(err, ErrSnapshotFetch):
		return "snapshot_fetch"
	case errors.Is(err, ErrSchedulerStopped):
		return "discarded"
	default:
		return "unknown"
	}
}
