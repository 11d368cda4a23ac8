// internal/dashboard/helpers_test.go
package dashboard

import (
	"context"
	"sync"
	"time"

	"gostock/internal/inventory"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// fakeProvider serves a settable snapshot or error.
type fakeProvider struct {
	mu        sync.Mutex
	equipment []inventory.Equipment
	checkouts []inventory.Checkout
	users     []inventory.User
	err       error
	calls     int
}

func (p *fakeProvider) set(equipment []inventory.Equipment, checkouts []inventory.Checkout) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.equipment, p.checkouts = equipment, checkouts
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProvider) FetchEquipment(context.Context) ([]inventory.Equipment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.equipment, nil
}

func (p *fakeProvider) FetchActiveCheckouts(_ context.Context, f inventory.CheckoutFilter) ([]inventory.Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []inventory.Checkout
	for _, c := range p.checkouts {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *fakeProvider) FetchUsers(context.Context) ([]inventory.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.users, nil
}

func equipment(id string, total, available int) inventory.Equipment {
	return inventory.Equipment{
		ID:                id,
		Name:              "Item " + id,
		Status:            inventory.EquipmentAvailable,
		TotalQuantity:     total,
		AvailableQuantity: available,
		CreatedAt:         now.Add(-10 * day),
	}
}

func activeLoan(id, equipmentID string, due time.Time) inventory.Checkout {
	return inventory.Checkout{
		ID:           id,
		EquipmentID:  equipmentID,
		UserID:       "U1",
		CheckoutDate: due.Add(-7 * day),
		DueDate:      due,
		Status:       inventory.CheckoutActive,
	}
}

// fakeClock is a manually driven Clock.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) && t.fire() {
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Tick delivers one tick to every live ticker.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if !t.isStopped() {
			t.c <- c.now
		}
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.pending() {
			n++
		}
	}
	return n
}

type fakeTicker struct {
	mu      sync.Mutex
	c       chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeTimer struct {
	mu   sync.Mutex
	at   time.Time
	f    func()
	done bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (t *fakeTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (t *fakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

// fakeRunner records passes and can hold Compute until released.
type fakeRunner struct {
	mu        sync.Mutex
	computes  int
	applies   int
	active    int
	maxActive int
	err       error
	gate      chan struct{}
	entered   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{entered: make(chan struct{}, 16)}
}

// hold makes every following Compute block until release is called.
func (r *fakeRunner) hold() {
	r.mu.Lock()
	r.gate = make(chan struct{})
	r.mu.Unlock()
}

func (r *fakeRunner) release() {
	r.mu.Lock()
	gate := r.gate
	r.gate = nil
	r.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (r *fakeRunner) failWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeRunner) Compute(ctx context.Context) (*Pass, error) {
	r.mu.Lock()
	r.computes++
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	gate, err := r.gate, r.err
	r.mu.Unlock()

	r.entered <- struct{}{}
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Pass{ID: "pass"}, nil
}

func (r *fakeRunner) Apply(*Pass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applies++
	return nil
}

func (r *fakeRunner) counts() (computes, applies, maxActive int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.computes, r.applies, r.maxActive
}
