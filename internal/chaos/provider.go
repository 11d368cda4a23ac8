// internal/chaos/provider.go
package chaos

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gostock/internal/inventory"
)

// ErrInjected is the failure returned by an injected fault.
var ErrInjected = errors.New("chaos: injected failure")

// Fault describes what to inject into every provider call.
type Fault struct {
	Latency     time.Duration
	Jitter      time.Duration
	FailureRate float64 // 0.0 to 1.0
}

// Provider wraps an inventory provider with configurable latency and
// failures for resilience drills.
type Provider struct {
	next inventory.Provider

	mu    sync.Mutex
	fault Fault
	rng   *rand.Rand
}

func NewProvider(next inventory.Provider, fault Fault, seed uint64) *Provider {
	return &Provider{
		next:  next,
		fault: fault,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Inject replaces the active fault.
func (p *Provider) Inject(f Fault) {
	p.mu.Lock()
	p.fault = f
	p.mu.Unlock()
}

// Rollback clears the active fault.
func (p *Provider) Rollback() {
	p.Inject(Fault{})
}

func (p *Provider) FetchEquipment(ctx context.Context) ([]inventory.Equipment, error) {
	if err := p.disturb(ctx, "equipment"); err != nil {
		return nil, err
	}
	return p.next.FetchEquipment(ctx)
}

func (p *Provider) FetchActiveCheckouts(ctx context.Context, filter inventory.CheckoutFilter) ([]inventory.Checkout, error) {
	if err := p.disturb(ctx, "checkouts"); err != nil {
		return nil, err
	}
	return p.next.FetchActiveCheckouts(ctx, filter)
}

func (p *Provider) FetchUsers(ctx context.Context) ([]inventory.User, error) {
	if err := p.disturb(ctx, "users"); err != nil {
		return nil, err
	}
	return p.next.FetchUsers(ctx)
}

func (p *Provider) disturb(ctx context.Context, target string) error {
	p.mu.Lock()
	f := p.fault
	delay := f.Latency
	if f.Jitter > 0 {
		delay += time.Duration(p.rng.Int64N(int64(f.Jitter)))
	}
	fail := f.FailureRate > 0 && p.rng.Float64() < f.FailureRate
	p.mu.Unlock()

	if delay == 0 && !fail {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	span.AddEvent("chaos.inject", trace.WithAttributes(
		attribute.String("target", target),
		attribute.Int64("latency_ms", delay.Milliseconds()),
		attribute.Bool("failure", fail),
	))

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return ErrInjected
	}
	return nil
}
