// internal/dashboard/counters.go
package dashboard

import (
	"time"

	"gostock/internal/inventory"
)

// Counters are the aggregate figures shown on the dashboard. They are
// replaced as a whole on every pass.
type Counters struct {
	AvailableEquipment  int `json:"available_equipment"`
	CheckedOutEquipment int `json:"checked_out_equipment"`
	OverdueEquipment    int `json:"overdue_equipment"`
	UnreadNotifications int `json:"unread_notifications"`
}

// Anomaly is an equipment record whose quantities break the
// 0 <= available <= total invariant the data service is meant to keep.
type Anomaly struct {
	EquipmentID       string
	TotalQuantity     int
	AvailableQuantity int
}

// Aggregate folds a validated snapshot into counters. Available units are
// summed as reported, whatever the status; anomalies are returned for
// logging, never clamped. unread is taken from the notification store.
func Aggregate(snap *inventory.Snapshot, now time.Time, unread int) (Counters, []Anomaly, error) {
	if err := snap.Validate(); err != nil {
		return Counters{}, nil, err
	}

	var (
		counters  = Counters{UnreadNotifications: unread}
		anomalies []Anomaly
		known     = make(map[string]struct{}, len(snap.Equipment))
	)
	for _, e := range snap.Equipment {
		known[e.ID] = struct{}{}
		counters.AvailableEquipment += e.AvailableQuantity
		if e.AvailableQuantity < 0 || e.AvailableQuantity > e.TotalQuantity {
			anomalies = append(anomalies, Anomaly{
				EquipmentID:       e.ID,
				TotalQuantity:     e.TotalQuantity,
				AvailableQuantity: e.AvailableQuantity,
			})
		}
	}

	for _, co := range snap.Checkouts {
		if !co.Status.OnLoan() {
			continue
		}
		if _, ok := known[co.EquipmentID]; ok {
			counters.CheckedOutEquipment++
		}
		if co.DueDate.Before(now) {
			counters.OverdueEquipment++
		}
	}
	return counters, anomalies, nil
}
