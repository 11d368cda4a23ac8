// cmd/dashboard/main_test.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gostock/internal/config"
	"gostock/internal/dashboard"
	"gostock/internal/eventstore"
	"gostock/internal/inventory"
	"gostock/internal/notifications"
	"gostock/internal/storage"
)

func seed(t *testing.T, store *inventory.Store, now time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutUser(ctx, inventory.User{ID: "U1", Name: "Ada"}))
	require.NoError(t, store.PutEquipment(ctx, inventory.Equipment{
		ID:                "E1",
		Name:              "Projector",
		Status:            inventory.EquipmentAvailable,
		TotalQuantity:     5,
		AvailableQuantity: 2,
		CreatedAt:         now.Add(-30 * 24 * time.Hour),
	}))
	require.NoError(t, store.PutCheckout(ctx, inventory.Checkout{
		ID:           "C1",
		EquipmentID:  "E1",
		UserID:       "U1",
		CheckoutDate: now.Add(-8 * 24 * time.Hour),
		DueDate:      now.Add(-24 * time.Hour),
		Status:       inventory.CheckoutActive,
	}))
}

func newService(t *testing.T, provider inventory.Provider) dashboard.Service {
	t.Helper()
	engine := dashboard.NewEngine(provider, notifications.NewStore(), dashboard.EngineOptions{
		Rules:  notifications.DefaultRules(),
		Logger: zerolog.Nop(),
	})
	scheduler := dashboard.NewScheduler(engine, dashboard.SchedulerOptions{
		Interval:        time.Hour,
		InvalidateDelay: 10 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	svc := dashboard.NewService(engine, scheduler)
	t.Cleanup(svc.Close)
	return svc
}

func TestSQLSourceFollowsEventLog(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.LoadFrom(map[string]string{
		"GOSTOCK_SOURCE": config.SourceSQL,
		"DATABASE_URL":   filepath.Join(t.TempDir(), "gostock.db"),
	})
	require.NoError(t, err)

	provider, events, cleanup, err := buildProvider(ctx, cfg)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, events)

	store, ok := provider.(*inventory.Store)
	require.True(t, ok)
	now := time.Now().UTC()
	seed(t, store, now)

	svc := newService(t, provider)
	require.NoError(t, svc.TriggerRefresh(ctx, dashboard.ModeExplicit))
	assert.Equal(t, dashboard.Counters{
		AvailableEquipment:  2,
		CheckedOutEquipment: 1,
		OverdueEquipment:    1,
		UnreadNotifications: 1,
	}, svc.Counters())

	watcher := eventstore.NewWatcher(events, eventstore.InvalidateSilently(svc), time.Hour, zerolog.Nop())
	require.NoError(t, watcher.Seek(ctx))

	require.NoError(t, store.PutCheckout(ctx, inventory.Checkout{
		ID:           "C2",
		EquipmentID:  "E1",
		UserID:       "U1",
		CheckoutDate: now.Add(-10 * 24 * time.Hour),
		DueDate:      now.Add(-3 * 24 * time.Hour),
		Status:       inventory.CheckoutActive,
	}))
	require.NoError(t, events.AppendEvents(ctx, uuid.NewString(), "Equipment", 0, []eventstore.Event{
		{EventType: eventstore.ItemCheckedOut},
	}))

	notified, err := watcher.Poll(ctx)
	require.NoError(t, err)
	require.True(t, notified)

	require.Eventually(t, func() bool {
		return svc.Counters().OverdueEquipment == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, dashboard.TriggerMutation, svc.Status().LastTrigger)
}

func TestHTTPSourceEndToEnd(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DriverSQLite, storage.SQLiteDSN(filepath.Join(t.TempDir(), "inventory.db")))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Migrate(db))
	store := inventory.NewStore(db)
	seed(t, store, time.Now().UTC())

	inventoryServer := httptest.NewServer(inventory.NewHandler(store).Routes())
	defer inventoryServer.Close()

	cfg, err := config.LoadFrom(map[string]string{
		"GOSTOCK_SOURCE":        config.SourceHTTP,
		"INVENTORY_SERVICE_URL": inventoryServer.URL,
	})
	require.NoError(t, err)
	provider, events, cleanup, err := buildProvider(ctx, cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, events)

	svc := newService(t, provider)
	api := httptest.NewServer(dashboard.NewHandler(svc, nil, zerolog.Nop()).Routes())
	defer api.Close()

	// concurrent clicks share passes and all see the same counters
	var wg sync.WaitGroup
	results := make([]map[string]any, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(api.URL+"/api/v1/refresh", "application/json", nil)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				json.NewDecoder(resp.Body).Decode(&results[i])
			}
		}()
	}
	wg.Wait()

	for _, body := range results {
		require.NotNil(t, body)
		assert.EqualValues(t, 2, body["available_equipment"])
		assert.EqualValues(t, 1, body["overdue_equipment"])
	}

	resp, err := http.Get(api.URL + "/api/v1/notifications?type=overdue")
	require.NoError(t, err)
	defer resp.Body.Close()
	var items []notifications.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "overdue:C1", items[0].ID)
	assert.Equal(t, notifications.PriorityLow, items[0].Priority)
	assert.Equal(t, "Ada", items[0].Context.UserName)
}
