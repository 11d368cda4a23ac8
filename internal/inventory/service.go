// internal/inventory/service.go
package inventory

import (
	"context"
	"time"
)

// CheckoutFilter narrows FetchActiveCheckouts by due date. Nil bounds mean
// "no constraint". DueAfter is inclusive, DueBefore exclusive.
type CheckoutFilter struct {
	DueAfter  *time.Time
	DueBefore *time.Time
}

// Match applies the filter client side, including the on-loan status check
// the data service is expected to have done already.
func (f CheckoutFilter) Match(c Checkout) bool {
	if !c.Status.OnLoan() {
		return false
	}
	if f.DueBefore != nil && !c.DueDate.Before(*f.DueBefore) {
		return false
	}
	if f.DueAfter != nil && c.DueDate.Before(*f.DueAfter) {
		return false
	}
	return true
}

// Provider returns current snapshots from the inventory data service.
// FetchActiveCheckouts only returns loans that are still out (stored status
// active or overdue).
type Provider interface {
	FetchEquipment(ctx context.Context) ([]Equipment, error)
	FetchActiveCheckouts(ctx context.Context, filter CheckoutFilter) ([]Checkout, error)
	FetchUsers(ctx context.Context) ([]User, error)
}
