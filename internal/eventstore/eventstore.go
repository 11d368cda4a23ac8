// internal/eventstore/eventstore.go
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")

// Circulation event types that change what the dashboard shows.
const (
	ItemCheckedOut    = "ItemCheckedOut"
	ItemReturned      = "ItemReturned"
	ItemCopiesUpdated = "ItemCopiesUpdated"
	ItemRemoved       = "ItemRemoved"
)

// Event is one entry of the circulation event log.
type Event struct {
	ID            int64           `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     string    `db:"event_data"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r eventRow) event() Event {
	return Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     json.RawMessage(r.EventData),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
	}
}

// EventStore reads and appends circulation events.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("gostock/eventstore"),
	}
}

// AppendEvents appends events to one aggregate if its current version is
// expectedVersion.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	opts := &sql.TxOptions{}
	if es.db.DriverName() == "postgres" {
		opts.Isolation = sql.LevelSerializable
	}
	tx, err := es.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.GetContext(ctx, &currentVersion, tx.Rebind(`
		SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?
	`), aggregateID)
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(attribute.Int("actual.version", currentVersion))
		return ErrConcurrencyConflict
	}

	insert := tx.Rebind(`
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for i, event := range events {
		data := string(event.EventData)
		if data == "" {
			data = "{}"
		}
		version := expectedVersion + i + 1
		_, err := tx.ExecContext(ctx, insert,
			aggregateID, aggregateType, event.EventType, data, version, time.Now().UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// StreamEvents returns up to batchSize events with id greater than fromID,
// in id order.
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, es.db.Rebind(`
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`), fromID, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query event stream: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// LatestID returns the id of the newest event, or 0 for an empty log.
func (es *EventStore) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := es.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM events`); err != nil {
		return 0, fmt.Errorf("query latest event id: %w", err)
	}
	return id, nil
}
