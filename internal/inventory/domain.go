// internal/inventory/domain.go
package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedSnapshot is returned when the data service hands back records
// that violate the snapshot model.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// EquipmentStatus is the lifecycle state of an equipment record.
type EquipmentStatus string

const (
	EquipmentAvailable   EquipmentStatus = "available"
	EquipmentCheckedOut  EquipmentStatus = "checked_out"
	EquipmentMaintenance EquipmentStatus = "maintenance"
	EquipmentRetired     EquipmentStatus = "retired"
)

// Valid reports whether s is one of the known equipment states.
func (s EquipmentStatus) Valid() bool {
	switch s {
	case EquipmentAvailable, EquipmentCheckedOut, EquipmentMaintenance, EquipmentRetired:
		return true
	}
	return false
}

// CheckoutStatus is the state of a loan record.
type CheckoutStatus string

const (
	CheckoutActive   CheckoutStatus = "active"
	CheckoutReturned CheckoutStatus = "returned"
	CheckoutOverdue  CheckoutStatus = "overdue"
)

// Valid reports whether s is one of the known checkout states.
func (s CheckoutStatus) Valid() bool {
	switch s {
	case CheckoutActive, CheckoutReturned, CheckoutOverdue:
		return true
	}
	return false
}

// OnLoan reports whether the unit is still out. A stored "overdue" status is
// still a loan; whether it is actually late is decided from the due date.
func (s CheckoutStatus) OnLoan() bool {
	return s == CheckoutActive || s == CheckoutOverdue
}

// Equipment is a read-only snapshot of one equipment record.
type Equipment struct {
	ID                string          `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	Category          string          `json:"category,omitempty" db:"category"`
	Status            EquipmentStatus `json:"status" db:"status"`
	TotalQuantity     int             `json:"total_quantity" db:"total_quantity"`
	AvailableQuantity int             `json:"available_quantity" db:"available_quantity"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Validate checks the fields the dashboard relies on. Quantity anomalies
// (available above total, negative available) are not rejected here; they are
// reported by the aggregation step.
func (e Equipment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: equipment id is required", ErrMalformedSnapshot)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: equipment %s has unknown status %q", ErrMalformedSnapshot, e.ID, e.Status)
	}
	if e.TotalQuantity < 0 {
		return fmt.Errorf("%w: equipment %s has negative total quantity", ErrMalformedSnapshot, e.ID)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: equipment %s has no created_at", ErrMalformedSnapshot, e.ID)
	}
	return nil
}

// Checkout is a read-only snapshot of one loan record.
type Checkout struct {
	ID           string         `json:"id" db:"id"`
	EquipmentID  string         `json:"equipment_id" db:"equipment_id"`
	UserID       string         `json:"user_id" db:"user_id"`
	CheckoutDate time.Time      `json:"checkout_date" db:"checkout_date"`
	DueDate      time.Time      `json:"due_date" db:"due_date"`
	ReturnDate   *time.Time     `json:"return_date,omitempty" db:"return_date"`
	Status       CheckoutStatus `json:"status" db:"status"`
}

// Validate checks the fields the dashboard relies on.
func (c Checkout) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: checkout id is required", ErrMalformedSnapshot)
	}
	if strings.TrimSpace(c.EquipmentID) == "" {
		return fmt.Errorf("%w: checkout %s has no equipment id", ErrMalformedSnapshot, c.ID)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: checkout %s has unknown status %q", ErrMalformedSnapshot, c.ID, c.Status)
	}
	if c.DueDate.IsZero() {
		return fmt.Errorf("%w: checkout %s has no due date", ErrMalformedSnapshot, c.ID)
	}
	return nil
}

// User is the part of a user record needed to label notifications.
type User struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email,omitempty" db:"email"`
}

// Snapshot is one consistent read of everything a derivation pass consumes.
type Snapshot struct {
	Equipment []Equipment
	Checkouts []Checkout
	Users     []User
	FetchedAt time.Time
}

// Validate runs record validation over the whole snapshot and returns the
// first violation.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is missing", ErrMalformedSnapshot)
	}
	seen := make(map[string]struct{}, len(s.Equipment))
	for _, e := range s.Equipment {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate equipment id %s", ErrMalformedSnapshot, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	checkouts := make(map[string]struct{}, len(s.Checkouts))
	for _, c := range s.Checkouts {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := checkouts[c.ID]; dup {
			return fmt.Errorf("%w: duplicate checkout id %s", ErrMalformedSnapshot, c.ID)
		}
		checkouts[c.ID] = struct{}{}
	}
	return nil
}
