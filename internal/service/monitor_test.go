package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-router/internal/payment"
	"payment-router/internal/probe"
	"payment-router/internal/registry"
)

func probedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(testClock)
	for _, p := range registry.DefaultCatalog() {
		if p.ID != "visa" {
			p.StatusURL = "http://status.invalid/" + p.ID
		}
		require.NoError(t, reg.Register(p, payment.HealthActive))
	}
	return reg
}

func newTestMonitor(t *testing.T, deps MonitorDeps, lockKey int64) *Monitor {
	t.Helper()
	m, err := NewMonitor(deps, MonitorOptions{
		MinSuccessRate: 0.95,
		MaxLatency:     3 * time.Second,
		Concurrency:    2,
		LockKey:        lockKey,
		EventRetention: 24 * time.Hour,
		Channels:       []string{"log"},
	}, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestTickFreezesReportedProcessor(t *testing.T) {
	reg := probedRegistry(t)
	checker := &stubChecker{reports: map[string]probe.Report{
		"stripe": {ProcessorID: "stripe", Status: "frozen", Frozen: true, Latency: 200 * time.Millisecond},
		"paypal": {ProcessorID: "paypal", Status: "active", Latency: 300 * time.Millisecond},
	}}
	store := &memoryStore{}
	sink := &recordingSink{}
	m := newTestMonitor(t, MonitorDeps{Registry: reg, Checker: checker, Events: store, Alerts: sink}, 0)

	require.NoError(t, m.Tick(context.Background(), testClock()))

	assert.ElementsMatch(t, []string{"stripe", "paypal"}, checker.checked)

	stripe, err := reg.Get("stripe")
	require.NoError(t, err)
	assert.Equal(t, payment.HealthFrozen, stripe.Health)
	paypal, err := reg.Get("paypal")
	require.NoError(t, err)
	assert.Equal(t, payment.HealthActive, paypal.Health)

	require.Len(t, store.events, 1)
	assert.Equal(t, "stripe", store.events[0].ProcessorID)
	assert.Equal(t, "ACTIVE", store.events[0].FromHealth)
	assert.Equal(t, "FROZEN", store.events[0].ToHealth)
	assert.Equal(t, testClock().Add(-24*time.Hour), store.prunedTo)

	require.Len(t, sink.notes, 1)
	note := sink.notes[0]
	assert.Equal(t, payment.HealthFrozen, note.To)
	assert.Equal(t, []string{"log"}, note.Channels)
	assert.NotEqual(t, "stripe", note.Rerouted)
	assert.NotEmpty(t, note.Rerouted)
}

func TestObserveSmoothsEstimates(t *testing.T) {
	reg := probedRegistry(t)
	m := newTestMonitor(t, MonitorDeps{Registry: reg}, 0)

	_, err := m.Observe(context.Background(), "stripe", probe.Report{Latency: 1045 * time.Millisecond}, nil)
	require.NoError(t, err)

	st, err := reg.Get("stripe")
	require.NoError(t, err)
	assert.InDelta(t, 0.987*0.95+0.05, st.SuccessRate, 1e-9)
	assert.Equal(t, 405*time.Millisecond, st.Latency)

	_, err = m.Observe(context.Background(), "stripe", probe.Report{SuccessRate: 0.5, HasSuccess: true}, nil)
	require.NoError(t, err)
	prev := 0.987*0.95 + 0.05
	st, err = reg.Get("stripe")
	require.NoError(t, err)
	assert.InDelta(t, prev*0.95+0.5*0.05, st.SuccessRate, 1e-9)
}

func TestObserveDegradesOnRepeatedFailures(t *testing.T) {
	reg := probedRegistry(t)
	sink := &recordingSink{}
	m := newTestMonitor(t, MonitorDeps{Registry: reg, Alerts: sink}, 0)
	boom := errors.New("connection refused")

	var tr registry.Transition
	var err error
	for i := 0; i < 3; i++ {
		tr, err = m.Observe(context.Background(), "paypal", probe.Report{}, boom)
		require.NoError(t, err)
	}

	st, err := reg.Get("paypal")
	require.NoError(t, err)
	assert.Equal(t, payment.HealthDegraded, st.Health)
	assert.Equal(t, payment.HealthDegraded, tr.To)
	assert.Equal(t, 312*time.Millisecond, st.Latency)
	assert.Empty(t, sink.notes)
}

func TestObserveHonoursReportedDegradedStatus(t *testing.T) {
	reg := probedRegistry(t)
	m := newTestMonitor(t, MonitorDeps{Registry: reg}, 0)

	report := probe.Report{Status: "degraded", Degraded: true, SuccessRate: 1, HasSuccess: true, Latency: 100 * time.Millisecond}
	tr, err := m.Observe(context.Background(), "stripe", report, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.HealthDegraded, tr.To)

	tr, err = m.Observe(context.Background(), "stripe", probe.Report{Status: "active", Latency: 100 * time.Millisecond}, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.HealthActive, tr.To)
}

func TestAlertsOnlyForFreezeAndUnfreeze(t *testing.T) {
	reg := probedRegistry(t)
	sink := &recordingSink{}
	m := newTestMonitor(t, MonitorDeps{Registry: reg, Alerts: sink}, 0)
	ctx := context.Background()

	_, err := m.SetHealth(ctx, "paypal", payment.HealthDegraded, "")
	require.NoError(t, err)
	_, err = m.SetHealth(ctx, "paypal", payment.HealthActive, "")
	require.NoError(t, err)
	assert.Empty(t, sink.notes)

	_, err = m.SetHealth(ctx, "paypal", payment.HealthFrozen, "")
	require.NoError(t, err)
	_, err = m.SetHealth(ctx, "paypal", payment.HealthActive, "")
	require.NoError(t, err)
	require.Len(t, sink.notes, 2)
	assert.Equal(t, payment.HealthFrozen, sink.notes[0].To)
	assert.Equal(t, payment.HealthFrozen, sink.notes[1].From)
	assert.Equal(t, payment.HealthActive, sink.notes[1].To)
}

func TestObserveDegradesOnLatency(t *testing.T) {
	reg := probedRegistry(t)
	m := newTestMonitor(t, MonitorDeps{Registry: reg}, 0)

	tr, err := m.Observe(context.Background(), "stripe", probe.Report{Latency: 20 * time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.HealthDegraded, tr.To)
}

func TestProbeFailureKeepsFrozenProcessorFrozen(t *testing.T) {
	reg := probedRegistry(t)
	m := newTestMonitor(t, MonitorDeps{Registry: reg}, 0)
	_, err := m.SetHealth(context.Background(), "stripe", payment.HealthFrozen, "")
	require.NoError(t, err)

	tr, err := m.Observe(context.Background(), "stripe", probe.Report{}, errors.New("timeout"))
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.Equal(t, payment.HealthFrozen, tr.To)
}

func TestSetHealthRecordsOperatorTransition(t *testing.T) {
	reg := probedRegistry(t)
	store := &memoryStore{}
	sink := &recordingSink{}
	m := newTestMonitor(t, MonitorDeps{Registry: reg, Events: store, Alerts: sink}, 0)

	tr, err := m.SetHealth(context.Background(), "stripe", payment.HealthFrozen, "")
	require.NoError(t, err)
	assert.True(t, tr.Changed())

	tr, err = m.SetHealth(context.Background(), "stripe", payment.HealthFrozen, "")
	require.NoError(t, err)
	assert.False(t, tr.Changed())

	require.Len(t, store.events, 1)
	assert.Equal(t, "operator", store.events[0].Reason)
	require.Len(t, sink.notes, 1)

	_, err = m.SetHealth(context.Background(), "adyen", payment.HealthFrozen, "")
	assert.ErrorIs(t, err, registry.ErrUnknownProcessor)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	reg := probedRegistry(t)
	checker := &stubChecker{}
	locker := &stubLocker{acquired: false}
	m := newTestMonitor(t, MonitorDeps{Registry: reg, Checker: checker, Locker: locker}, 42)

	require.NoError(t, m.Tick(context.Background(), testClock()))
	assert.Equal(t, 1, locker.calls)
	assert.Empty(t, checker.checked)

	locker.acquired = true
	require.NoError(t, m.Tick(context.Background(), testClock()))
	assert.Len(t, checker.checked, 2)
	assert.Equal(t, 1, locker.unlocked)
}

func TestNewMonitorValidatesOptions(t *testing.T) {
	_, err := NewMonitor(MonitorDeps{}, MonitorOptions{MaxLatency: time.Second}, zerolog.Nop())
	require.Error(t, err)

	_, err = NewMonitor(MonitorDeps{Registry: registry.New(nil)}, MonitorOptions{MinSuccessRate: 2, MaxLatency: time.Second}, zerolog.Nop())
	require.Error(t, err)
}
