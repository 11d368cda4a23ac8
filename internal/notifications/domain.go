// internal/notifications/domain.go
package notifications

import (
	"cmp"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when an operation targets an id that is not in the feed.
	ErrNotFound = errors.New("notification not found")
	// ErrDerivationInternal flags a rule computation that reached a state the
	// rules cannot produce on sane input, e.g. negative day counts.
	ErrDerivationInternal = errors.New("notification derivation internal error")
)

// Type is the trigger that produced a notification.
type Type string

const (
	TypeOverdue     Type = "overdue"
	TypeDueSoon     Type = "due_soon"
	TypeMaintenance Type = "maintenance"
	TypeSystem      Type = "system"
)

// ParseType accepts the wire names of the four types.
func ParseType(s string) (Type, bool) {
	switch t := Type(s); t {
	case TypeOverdue, TypeDueSoon, TypeMaintenance, TypeSystem:
		return t, true
	}
	return "", false
}

// Priority orders the feed; high sorts first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Item is one derived notification.
type Item struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
	Context   *Context  `json:"context,omitempty"`
}

// Context links a notification back to the records it was derived from.
// Days holds days overdue, days until due or days in maintenance depending
// on the item type.
type Context struct {
	EquipmentID   string     `json:"equipment_id,omitempty"`
	EquipmentName string     `json:"equipment_name,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	UserName      string     `json:"user_name,omitempty"`
	CheckoutID    string     `json:"checkout_id,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Days          int        `json:"days"`
}

// ItemID builds the stable identity of a notification from its trigger and
// source record.
func ItemID(t Type, sourceID string) string {
	return string(t) + ":" + sourceID
}

// compareItems orders by priority descending, then creation time descending,
// then id ascending so the order is total.
func compareItems(a, b Item) int {
	if c := cmp.Compare(b.Priority.rank(), a.Priority.rank()); c != 0 {
		return c
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortItems sorts items into feed order in place.
func SortItems(items []Item) {
	slices.SortFunc(items, compareItems)
}
