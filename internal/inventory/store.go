// internal/inventory/store.go
package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store reads snapshots straight out of the inventory read model.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewStore wraps an open read model connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("gostock/inventory"),
	}
}

// FetchEquipment returns every equipment record ordered by id.
func (s *Store) FetchEquipment(ctx context.Context) ([]Equipment, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.list_equipment")
	defer span.End()

	var equipment []Equipment
	err := s.db.SelectContext(ctx, &equipment, `
		SELECT id, name, category, status, total_quantity, available_quantity, created_at
		FROM equipment
		ORDER BY id
	`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}

	span.SetAttributes(attribute.Int("equipment.count", len(equipment)))
	return equipment, nil
}

// FetchActiveCheckouts returns loans that are still out, narrowed by filter.
func (s *Store) FetchActiveCheckouts(ctx context.Context, filter CheckoutFilter) ([]Checkout, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.list_checkouts")
	defer span.End()

	var (
		where = []string{"status IN (?, ?)"}
		args  = []any{string(CheckoutActive), string(CheckoutOverdue)}
	)
	if filter.DueAfter != nil {
		where = append(where, "due_date >= ?")
		args = append(args, filter.DueAfter.UTC())
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}

	query := s.db.Rebind(`
		SELECT id, equipment_id, user_id, checkout_date, due_date, return_date, status
		FROM checkouts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY due_date, id
	`)

	var rows []Checkout
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list checkouts: %w", err)
	}

	checkouts := rows[:0]
	for _, c := range rows {
		if filter.Match(c) {
			checkouts = append(checkouts, c)
		}
	}

	span.SetAttributes(attribute.Int("checkouts.count", len(checkouts)))
	return checkouts, nil
}

// FetchUsers returns every user ordered by id.
func (s *Store) FetchUsers(ctx context.Context) ([]User, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.list_users")
	defer span.End()

	var users []User
	if err := s.db.SelectContext(ctx, &users, `SELECT id, name, email FROM users ORDER BY id`); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// PutEquipment inserts or replaces an equipment record.
func (s *Store) PutEquipment(ctx context.Context, e Equipment) error {
	query := s.upsert("equipment",
		[]string{"id", "name", "category", "status", "total_quantity", "available_quantity", "created_at"},
		[]string{"name", "category", "status", "total_quantity", "available_quantity"})
	_, err := s.db.ExecContext(ctx, query, e.ID, e.Name, e.Category, string(e.Status), e.TotalQuantity, e.AvailableQuantity, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put equipment %s: %w", e.ID, err)
	}
	return nil
}

// PutCheckout inserts or replaces a checkout record.
func (s *Store) PutCheckout(ctx context.Context, c Checkout) error {
	var returnDate any
	if c.ReturnDate != nil {
		returnDate = c.ReturnDate.UTC()
	}
	query := s.upsert("checkouts",
		[]string{"id", "equipment_id", "user_id", "checkout_date", "due_date", "return_date", "status"},
		[]string{"due_date", "return_date", "status"})
	_, err := s.db.ExecContext(ctx, query, c.ID, c.EquipmentID, c.UserID, c.CheckoutDate.UTC(), c.DueDate.UTC(), returnDate, string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to put checkout %s: %w", c.ID, err)
	}
	return nil
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u User) error {
	query := s.upsert("users", []string{"id", "name", "email"}, []string{"name", "email"})
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email); err != nil {
		return fmt.Errorf("failed to put user %s: %w", u.ID, err)
	}
	return nil
}

// upsert builds an insert keyed on id that overwrites updates on conflict,
// in the dialect of the connected driver.
func (s *Store) upsert(table string, columns, updates []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)

	sets := make([]string, len(updates))
	if s.db.DriverName() == "mysql" {
		for i, col := range updates {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		return query + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for i, col := range updates {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return s.db.Rebind(query + " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", "))
}
