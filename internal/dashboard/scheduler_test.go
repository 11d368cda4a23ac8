// internal/dashboard/scheduler_test.go
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gostock/internal/notifications"
)

const waitFor = 2 * time.Second

func newTestScheduler(runner Runner, clock *fakeClock, focus <-chan struct{}) *Scheduler {
	return NewScheduler(runner, SchedulerOptions{
		Interval:        time.Minute,
		InvalidateDelay: 500 * time.Millisecond,
		Clock:           clock,
		Focus:           focus,
		Logger:          zerolog.Nop(),
	})
}

func receive(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func (s *Scheduler) queuedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("explicit")
	assert.True(t, ok)
	assert.Equal(t, ModeExplicit, m)

	m, ok = ParseMode("silent")
	assert.True(t, ok)
	assert.Equal(t, ModeSilent, m)

	_, ok = ParseMode("loud")
	assert.False(t, ok)
	assert.Equal(t, "explicit", ModeExplicit.String())
}

func TestSchedulerActivationIntervalAndFocus(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner()
	focus := make(chan struct{})
	s := newTestScheduler(runner, clock, focus)
	defer s.Stop()

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool {
		_, applies, _ := runner.counts()
		return applies == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, TriggerActivate, s.Status().LastTrigger)

	clock.Tick()
	require.Eventually(t, func() bool {
		_, applies, _ := runner.counts()
		return applies == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, TriggerInterval, s.Status().LastTrigger)

	focus <- struct{}{}
	require.Eventually(t, func() bool {
		_, applies, _ := runner.counts()
		return applies == 3
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, TriggerFocus, s.Status().LastTrigger)

	status := s.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, now, status.LastRefreshAt)
	assert.Empty(t, status.LastError)
}

func TestSchedulerSilentFailureKeepsRunning(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	defer s.Stop()

	fetchErr := fmt.Errorf("%w: equipment: connection refused", ErrSnapshotFetch)
	runner.failWith(fetchErr)

	require.NoError(t, s.Trigger(context.Background(), ModeSilent))
	status := s.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Contains(t, status.LastError, "connection refused")
	assert.True(t, status.LastRefreshAt.IsZero())

	err := s.Trigger(context.Background(), ModeExplicit)
	require.ErrorIs(t, err, ErrSnapshotFetch)
	assert.Equal(t, TriggerUser, s.Status().LastTrigger)

	runner.failWith(nil)
	require.NoError(t, s.Refresh(context.Background()))
	assert.Empty(t, s.Status().LastError)
	assert.False(t, s.Status().LastRefreshAt.IsZero())
}

func TestSchedulerSilentDerivationFailure(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	defer s.Stop()

	runner.failWith(fmt.Errorf("%w: duplicate notification id", notifications.ErrDerivationInternal))
	assert.NoError(t, s.Trigger(context.Background(), ModeSilent))
	assert.ErrorIs(t, s.Trigger(context.Background(), ModeExplicit), notifications.ErrDerivationInternal)
}

func TestSchedulerOnePassInFlight(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	defer s.Stop()

	runner.hold()
	first := make(chan error, 1)
	go func() { first <- s.Trigger(context.Background(), ModeExplicit) }()
	<-runner.entered
	assert.Equal(t, StateRefreshing, s.Status().State)

	require.NoError(t, s.Trigger(context.Background(), ModeSilent), "silent trigger is dropped")
	computes, _, _ := runner.counts()
	assert.Equal(t, 1, computes)

	second := make(chan error, 1)
	third := make(chan error, 1)
	go func() { second <- s.Refresh(context.Background()) }()
	go func() { third <- s.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return s.queuedLen() == 2 }, waitFor, 5*time.Millisecond)

	runner.release()
	require.NoError(t, receive(t, first))
	require.NoError(t, receive(t, second))
	require.NoError(t, receive(t, third))

	computes, applies, maxActive := runner.counts()
	assert.Equal(t, 2, computes, "queued triggers share one follow-up pass")
	assert.Equal(t, 2, applies)
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, StateIdle, s.Status().State)
}

func TestSchedulerQueuedCallerCanGiveUp(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	defer s.Stop()

	runner.hold()
	first := make(chan error, 1)
	go func() { first <- s.Refresh(context.Background()) }()
	<-runner.entered

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() { queued <- s.Refresh(ctx) }()
	require.Eventually(t, func() bool { return s.queuedLen() == 1 }, waitFor, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, receive(t, queued), context.Canceled)

	runner.release()
	require.NoError(t, receive(t, first))
}

func TestSchedulerInvalidateDebounces(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner()
	s := newTestScheduler(runner, clock, nil)
	defer s.Stop()

	silent := s.Invalidate(ModeSilent)
	clock.Advance(300 * time.Millisecond)
	explicit := s.Invalidate(ModeExplicit)
	clock.Advance(300 * time.Millisecond)

	computes, _, _ := runner.counts()
	assert.Zero(t, computes, "the second invalidation restarts the delay")

	clock.Advance(200 * time.Millisecond)
	require.NoError(t, receive(t, silent))
	require.NoError(t, receive(t, explicit))

	computes, _, _ = runner.counts()
	assert.Equal(t, 1, computes)
	assert.Equal(t, TriggerMutation, s.Status().LastTrigger)
	assert.Zero(t, clock.pendingTimers())
}

func TestSchedulerInvalidateSurfacesExplicitFailure(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner()
	s := newTestScheduler(runner, clock, nil)
	defer s.Stop()

	runner.failWith(fmt.Errorf("%w: checkouts: timeout", ErrSnapshotFetch))

	silent := s.Invalidate(ModeSilent)
	clock.Advance(time.Second)
	assert.NoError(t, receive(t, silent))

	explicit := s.Invalidate(ModeExplicit)
	clock.Advance(time.Second)
	assert.ErrorIs(t, receive(t, explicit), ErrSnapshotFetch)
}

func TestSchedulerMutationQueuesBehindRunningPass(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner()
	s := newTestScheduler(runner, clock, nil)
	defer s.Stop()

	runner.hold()
	first := make(chan error, 1)
	go func() { first <- s.Trigger(context.Background(), ModeSilent) }()
	<-runner.entered

	done := s.Invalidate(ModeSilent)
	go clock.Advance(time.Second)
	require.Eventually(t, func() bool { return s.queuedLen() == 1 }, waitFor, 5*time.Millisecond)

	runner.release()
	require.NoError(t, receive(t, first))
	require.NoError(t, receive(t, done))

	computes, _, _ := runner.counts()
	assert.Equal(t, 2, computes, "writes are followed by a pass that started after them")
}

func TestSchedulerStopDiscardsRunningPass(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)

	runner.hold()
	result := make(chan error, 1)
	go func() { result <- s.Refresh(context.Background()) }()
	<-runner.entered

	s.Stop()
	runner.release()
	assert.ErrorIs(t, receive(t, result), ErrSchedulerStopped)

	_, applies, _ := runner.counts()
	assert.Zero(t, applies)
}

func TestSchedulerStopReleasesPendingInvalidation(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner()
	s := newTestScheduler(runner, clock, nil)

	pending := s.Invalidate(ModeExplicit)
	require.Equal(t, 1, clock.pendingTimers())

	s.Stop()
	assert.ErrorIs(t, receive(t, pending), ErrSchedulerStopped)
	assert.Zero(t, clock.pendingTimers())

	clock.Advance(time.Minute)
	computes, _, _ := runner.counts()
	assert.Zero(t, computes)
}

func TestSchedulerAfterStop(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	s.Stop()
	s.Stop()

	assert.ErrorIs(t, s.Trigger(context.Background(), ModeSilent), ErrSchedulerStopped)
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrSchedulerStopped)
	assert.ErrorIs(t, receive(t, s.Invalidate(ModeSilent)), ErrSchedulerStopped)

	s.Start(context.Background())
	s.Focus()
	computes, _, _ := runner.counts()
	assert.Zero(t, computes)
}

func TestSchedulerFocus(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	defer s.Stop()

	s.Focus()
	require.Eventually(t, func() bool {
		_, applies, _ := runner.counts()
		return applies == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, TriggerFocus, s.Status().LastTrigger)
}

func TestSchedulerSilentTriggerIsNotFocus(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, newFakeClock(), nil)
	defer s.Stop()

	require.NoError(t, s.Trigger(context.Background(), ModeSilent))
	assert.Equal(t, TriggerSilent, s.Status().LastTrigger)

	require.NoError(t, s.Trigger(context.Background(), ModeExplicit))
	assert.Equal(t, TriggerUser, s.Status().LastTrigger)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "ok", errorKind(nil))
	assert.Equal(t, "snapshot_fetch", errorKind(fmt.Errorf("%w: x", ErrSnapshotFetch)))
	assert.Equal(t, "derivation_internal", errorKind(notifications.ErrDerivationInternal))
	assert.Equal(t, "discarded", errorKind(ErrSchedulerStopped))
	assert.Equal(t, "unknown", errorKind(errors.New("boom")))
}
