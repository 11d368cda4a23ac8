// internal/clients/inventory_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"gostock/internal/inventory"
)

const (
	defaultMaxTries       = 3
	defaultRequestTimeout = 10 * time.Second
	breakerOpenTimeout    = 30 * time.Second
	breakerTripAfter      = 5
)

// ErrUnexpectedStatus is returned for non-2xx answers from the inventory API.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// InventoryClient fetches snapshots from the inventory read API. It
// implements inventory.Provider.
type InventoryClient struct {
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
	backoff  func() backoff.BackOff
}

// InventoryClientOption tweaks a client at construction.
type InventoryClientOption func(*InventoryClient)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) InventoryClientOption {
	return func(ic *InventoryClient) { ic.http = c }
}

// WithMaxTries sets how many attempts a fetch gets before giving up.
func WithMaxTries(n uint) InventoryClientOption {
	return func(ic *InventoryClient) {
		if n > 0 {
			ic.maxTries = n
		}
	}
}

// WithBackOff overrides the retry schedule. Tests use a zero backoff.
func WithBackOff(f func() backoff.BackOff) InventoryClientOption {
	return func(ic *InventoryClient) { ic.backoff = f }
}

func NewInventoryClient(baseURL string, opts ...InventoryClientOption) *InventoryClient {
	c := &InventoryClient{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: defaultRequestTimeout},
		maxTries: defaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inventory-api",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		// A body that fails validation still proves the service is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, inventory.ErrMalformedSnapshot)
		},
	})
	return c
}

func (c *InventoryClient) FetchEquipment(ctx context.Context) ([]inventory.Equipment, error) {
	return fetchList[inventory.Equipment](ctx, c, "/equipment", nil)
}

func (c *InventoryClient) FetchActiveCheckouts(ctx context.Context, filter inventory.CheckoutFilter) ([]inventory.Checkout, error) {
	q := url.Values{}
	q.Set("status", string(inventory.CheckoutActive))
	if filter.DueAfter != nil {
		q.Set("due_after", filter.DueAfter.UTC().Format(time.RFC3339))
	}
	if filter.DueBefore != nil {
		q.Set("due_before", filter.DueBefore.UTC().Format(time.RFC3339))
	}

	checkouts, err := fetchList[inventory.Checkout](ctx, c, "/checkouts", q)
	if err != nil {
		return nil, err
	}

	// The server is trusted to filter, but the result is re-checked so a
	// lenient server cannot leak returned loans into the counters.
	active := checkouts[:0]
	for _, co := range checkouts {
		if filter.Match(co) {
			active = append(active, co)
		}
	}
	return active, nil
}

func (c *InventoryClient) FetchUsers(ctx context.Context) ([]inventory.User, error) {
	return fetchList[inventory.User](ctx, c, "/users", nil)
}

// BreakerState reports the circuit breaker state for status pages.
func (c *InventoryClient) BreakerState() string {
	return c.breaker.State().String()
}

func fetchList[T any](ctx context.Context, c *InventoryClient, path string, query url.Values) ([]T, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	operation := func() ([]T, error) {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return getList[T](ctx, c.http, endpoint)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(fmt.Errorf("inventory api unavailable: %w", err))
			}
			return nil, err
		}
		return res.([]T), nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

// getList performs one GET. Client errors and undecodable bodies are
// permanent; transport errors and 5xx are retried.
func getList[T any](ctx context.Context, client *http.Client, endpoint string) ([]T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, req.URL.Path)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var list []T
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: decode %s: %v", inventory.ErrMalformedSnapshot, req.URL.Path, err))
	}
	if list == nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned no list", inventory.ErrMalformedSnapshot, req.URL.Path))
	}
	return list, nil
}
