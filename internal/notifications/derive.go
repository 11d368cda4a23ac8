// internal/notifications/derive.go
package notifications

import (
	"fmt"
	"time"

	"gostock/internal/inventory"
)

const day = 24 * time.Hour

const (
	DefaultDueSoonWindow         = 3 * day
	DefaultStaleMaintenanceAfter = 30 * day

	overdueHighAfterDays     = 7
	overdueMediumAfterDays   = 3
	dueSoonHighWithinDays    = 1
	maintenanceHighAfterDays = 60

	// SystemItemID identifies the all-clear item emitted when nothing else fires.
	SystemItemID = "system:all-clear"
)

// Rules holds the tunable windows of the derivation rules.
type Rules struct {
	DueSoonWindow         time.Duration
	StaleMaintenanceAfter time.Duration
}

// DefaultRules returns a three day due-soon window and a thirty day
// maintenance threshold.
func DefaultRules() Rules {
	return Rules{
		DueSoonWindow:         DefaultDueSoonWindow,
		StaleMaintenanceAfter: DefaultStaleMaintenanceAfter,
	}
}

func (r Rules) normalized() Rules {
	if r.DueSoonWindow <= 0 {
		r.DueSoonWindow = DefaultDueSoonWindow
	}
	if r.StaleMaintenanceAfter <= 0 {
		r.StaleMaintenanceAfter = DefaultStaleMaintenanceAfter
	}
	return r
}

// Derive scans a snapshot for overdue loans, loans due soon and equipment
// stuck in maintenance, and returns the candidate feed in feed order. Every
// item carries now as its creation time. When no rule fires the result is a
// single low priority system item.
func Derive(snap *inventory.Snapshot, now time.Time, rules Rules) ([]Item, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: no snapshot to derive from", ErrDerivationInternal)
	}
	if now.IsZero() {
		return nil, fmt.Errorf("%w: clock returned the zero time", ErrDerivationInternal)
	}
	rules = rules.normalized()

	equipment := make(map[string]inventory.Equipment, len(snap.Equipment))
	for _, e := range snap.Equipment {
		equipment[e.ID] = e
	}
	users := make(map[string]inventory.User, len(snap.Users))
	for _, u := range snap.Users {
		users[u.ID] = u
	}

	var items []Item
	for _, co := range snap.Checkouts {
		if !co.Status.OnLoan() {
			continue
		}
		item, ok, err := deriveLoan(co, equipment, users, now, rules)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}

	for _, e := range snap.Equipment {
		item, ok, err := deriveMaintenance(e, now, rules)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		items = append(items, Item{
			ID:        SystemItemID,
			Type:      TypeSystem,
			Title:     "All clear",
			Message:   "Nothing needs attention right now.",
			Priority:  PriorityLow,
			CreatedAt: now,
		})
	}

	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate notification id %s", ErrDerivationInternal, it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	SortItems(items)
	return items, nil
}

// deriveLoan applies the overdue and due-soon rules. The windows are
// disjoint: overdue needs the due date strictly before now.
func deriveLoan(co inventory.Checkout, equipment map[string]inventory.Equipment, users map[string]inventory.User, now time.Time, rules Rules) (Item, bool, error) {
	equipmentName := co.EquipmentID
	if e, ok := equipment[co.EquipmentID]; ok && e.Name != "" {
		equipmentName = e.Name
	}
	userName := co.UserID
	if u, ok := users[co.UserID]; ok && u.Name != "" {
		userName = u.Name
	}
	due := co.DueDate

	meta := &Context{
		EquipmentID:   co.EquipmentID,
		EquipmentName: equipmentName,
		UserID:        co.UserID,
		UserName:      userName,
		CheckoutID:    co.ID,
		DueDate:       &due,
	}

	switch {
	case due.Before(now):
		days, err := wholeDays(now.Sub(due), co.ID)
		if err != nil {
			return Item{}, false, err
		}
		meta.Days = days
		return Item{
			ID:        ItemID(TypeOverdue, co.ID),
			Type:      TypeOverdue,
			Title:     "Overdue: " + equipmentName,
			Message:   fmt.Sprintf("%s borrowed by %s is %s overdue (due %s).", equipmentName, userName, plural(days, "day"), due.Format("2006-01-02")),
			Priority:  overduePriority(days),
			CreatedAt: now,
			Context:   meta,
		}, true, nil

	case !due.After(now.Add(rules.DueSoonWindow)):
		days, err := wholeDays(due.Sub(now), co.ID)
		if err != nil {
			return Item{}, false, err
		}
		meta.Days = days
		when := "today"
		if days > 0 {
			when = "in " + plural(days, "day")
		}
		return Item{
			ID:        ItemID(TypeDueSoon, co.ID),
			Type:      TypeDueSoon,
			Title:     "Due soon: " + equipmentName,
			Message:   fmt.Sprintf("%s borrowed by %s is due %s (%s).", equipmentName, userName, when, due.Format("2006-01-02")),
			Priority:  dueSoonPriority(days),
			CreatedAt: now,
			Context:   meta,
		}, true, nil
	}
	return Item{}, false, nil
}

// deriveMaintenance applies the stale maintenance rule. The record's
// created_at stands in for the time it entered maintenance.
func deriveMaintenance(e inventory.Equipment, now time.Time, rules Rules) (Item, bool, error) {
	if e.Status != inventory.EquipmentMaintenance {
		return Item{}, false, nil
	}
	if !e.CreatedAt.Before(now.Add(-rules.StaleMaintenanceAfter)) {
		return Item{}, false, nil
	}
	days, err := wholeDays(now.Sub(e.CreatedAt), e.ID)
	if err != nil {
		return Item{}, false, err
	}
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return Item{
		ID:        ItemID(TypeMaintenance, e.ID),
		Type:      TypeMaintenance,
		Title:     "Maintenance overdue: " + name,
		Message:   fmt.Sprintf("%s has been in maintenance for %s.", name, plural(days, "day")),
		Priority:  maintenancePriority(days),
		CreatedAt: now,
		Context: &Context{
			EquipmentID:   e.ID,
			EquipmentName: name,
			Days:          days,
		},
	}, true, nil
}

func overduePriority(days int) Priority {
	switch {
	case days > overdueHighAfterDays:
		return PriorityHigh
	case days > overdueMediumAfterDays:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func dueSoonPriority(days int) Priority {
	if days <= dueSoonHighWithinDays {
		return PriorityHigh
	}
	return PriorityMedium
}

func maintenancePriority(days int) Priority {
	if days > maintenanceHighAfterDays {
		return PriorityHigh
	}
	return PriorityMedium
}

// wholeDays floors d to whole days. A negative span means the window checks
// and the arithmetic disagree.
func wholeDays(d time.Duration, sourceID string) (int, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: negative day count for %s", ErrDerivationInternal, sourceID)
	}
	return int(d / day), nil
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
