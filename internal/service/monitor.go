package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"payment-router/internal/alerting"
	"payment-router/internal/logging"
	"payment-router/internal/metrics"
	"payment-router/internal/payment"
	"payment-router/internal/probe"
	"payment-router/internal/registry"
	"payment-router/internal/storage"
)

const (
	latencyKeep = 0.8
	successKeep = 0.95
)

// AlertSink receives health transition notifications.
type AlertSink interface {
	Notify(ctx context.Context, note alerting.Notification) (bool, error)
}

// MonitorDeps are the collaborators of a Monitor. Everything except the
// registry is optional.
type MonitorDeps struct {
	Registry *registry.Registry
	Checker  probe.Checker
	Events   storage.HealthEventStore
	Locker   storage.AdvisoryLocker
	Alerts   AlertSink
}

// MonitorOptions hold health derivation thresholds.
type MonitorOptions struct {
	MinSuccessRate float64
	MaxLatency     time.Duration
	Concurrency    int
	LockKey        int64
	EventRetention time.Duration
	Channels       []string
}

// Monitor probes processors, folds observations into rolling estimates and
// drives health transitions.
type Monitor struct {
	deps   MonitorDeps
	opts   MonitorOptions
	logger zerolog.Logger
}

// NewMonitor constructs a Monitor.
func NewMonitor(deps MonitorDeps, opts MonitorOptions, logger zerolog.Logger) (*Monitor, error) {
	if deps.Registry == nil {
		return nil, errors.New("monitor requires a registry")
	}
	if opts.MinSuccessRate < 0 || opts.MinSuccessRate > 1 {
		return nil, fmt.Errorf("min success rate %v outside [0,1]", opts.MinSuccessRate)
	}
	if opts.MaxLatency <= 0 {
		return nil, errors.New("max latency must be positive")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if deps.Locker == nil {
		if l, ok := deps.Events.(storage.AdvisoryLocker); ok {
			deps.Locker = l
		}
	}
	for _, st := range deps.Registry.Snapshot() {
		metrics.SetHealth(st.ID, st.Health)
	}
	return &Monitor{
		deps:   deps,
		opts:   opts,
		logger: logging.Component(logger, "monitor"),
	}, nil
}

// Tick probes every processor that exposes a status endpoint. Probe failures
// are logged and folded into the estimates; they do not fail the tick.
func (m *Monitor) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if m.deps.Checker != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.opts.Concurrency)
		for _, st := range m.deps.Registry.Snapshot() {
			if st.StatusURL == "" {
				continue
			}
			st := st
			g.Go(func() error {
				report, probeErr := m.deps.Checker.Check(gctx, st.Processor)
				if probeErr != nil {
					metrics.ObserveProbeFailure(st.ID)
					m.logger.Warn().Err(probeErr).Str("processor", st.ID).Msg("status probe failed")
				}
				if _, err := m.Observe(gctx, st.ID, report, probeErr); err != nil {
					m.logger.Error().Err(err).Str("processor", st.ID).Msg("failed to apply observation")
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	m.prune(ctx, at)
	return ctx.Err()
}

// Observe folds one probe result into the processor's estimates and applies
// the derived health.
func (m *Monitor) Observe(ctx context.Context, id string, report probe.Report, probeErr error) (registry.Transition, error) {
	st, err := m.deps.Registry.Get(id)
	if err != nil {
		return registry.Transition{}, err
	}

	success := st.SuccessRate
	latency := st.Latency
	switch {
	case probeErr != nil:
		success = math.Max(0, success*successKeep)
	case report.HasSuccess:
		success = success*successKeep + report.SuccessRate*(1-successKeep)
	default:
		success = math.Min(1, success*successKeep+(1-successKeep))
	}
	if probeErr == nil {
		observed := report.Latency
		if observed <= 0 {
			observed = report.RoundTrip
		}
		if observed > 0 {
			latency = time.Duration(math.Round(float64(latency)*latencyKeep + float64(observed)*(1-latencyKeep)))
		}
	}
	if err := m.deps.Registry.UpdateMetrics(id, success, latency); err != nil {
		return registry.Transition{}, err
	}

	health, reason := m.derive(st.Health, success, latency, report, probeErr)
	return m.apply(ctx, id, health, reason, success, latency)
}

// SetHealth forces a health state, as an operator would.
func (m *Monitor) SetHealth(ctx context.Context, id string, health payment.Health, reason string) (registry.Transition, error) {
	st, err := m.deps.Registry.Get(id)
	if err != nil {
		return registry.Transition{}, err
	}
	if reason == "" {
		reason = "operator"
	}
	return m.apply(ctx, id, health, reason, st.SuccessRate, st.Latency)
}

func (m *Monitor) derive(current payment.Health, success float64, latency time.Duration, report probe.Report, probeErr error) (payment.Health, string) {
	switch {
	case probeErr == nil && report.Frozen:
		return payment.HealthFrozen, fmt.Sprintf("processor reports %s", report.Status)
	case probeErr != nil && current == payment.HealthFrozen:
		return current, "probe failed while frozen"
	case probeErr == nil && report.Degraded:
		return payment.HealthDegraded, fmt.Sprintf("processor reports %s", report.Status)
	case success < m.opts.MinSuccessRate:
		return payment.HealthDegraded, fmt.Sprintf("success rate %.3f below %.3f", success, m.opts.MinSuccessRate)
	case latency > m.opts.MaxLatency:
		return payment.HealthDegraded, fmt.Sprintf("latency %s above %s", latency.Round(time.Millisecond), m.opts.MaxLatency)
	}
	return payment.HealthActive, "within thresholds"
}

func (m *Monitor) apply(ctx context.Context, id string, health payment.Health, reason string, success float64, latency time.Duration) (registry.Transition, error) {
	tr, err := m.deps.Registry.SetHealth(id, health)
	if err != nil {
		return tr, err
	}
	metrics.SetHealth(id, tr.To)
	if !tr.Changed() {
		return tr, nil
	}
	metrics.ObserveTransition(id, tr.From, tr.To)

	rerouted := ""
	if cands := m.deps.Registry.Candidates(nil); len(cands) > 0 {
		rerouted = cands[0].ID
	}
	m.logger.Warn().
		Str("processor", id).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("reason", reason).
		Float64("success_rate", success).
		Dur("latency", latency).
		Str("rerouted", rerouted).
		Msg("processor health changed")

	if m.deps.Events != nil {
		sr := success
		ms := latency.Milliseconds()
		ev := storage.HealthEvent{
			ProcessorID: id,
			FromHealth:  string(tr.From),
			ToHealth:    string(tr.To),
			Reason:      reason,
			SuccessRate: &sr,
			LatencyMS:   &ms,
			CreatedAt:   tr.At,
		}
		if _, err := m.deps.Events.InsertHealthEvent(ctx, ev); err != nil {
			m.logger.Error().Err(err).Str("processor", id).Msg("failed to persist health event")
		}
	}

	if m.deps.Alerts != nil && (tr.To == payment.HealthFrozen || tr.From == payment.HealthFrozen) {
		note := alerting.Notification{
			At:          tr.At,
			ProcessorID: id,
			From:        tr.From,
			To:          tr.To,
			Reason:      reason,
			SuccessRate: success,
			Latency:     latency,
			Rerouted:    rerouted,
			Channels:    m.opts.Channels,
		}
		if _, err := m.deps.Alerts.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("processor", id).Msg("failed to dispatch alert")
		}
	}
	return tr, nil
}

func (m *Monitor) prune(ctx context.Context, at time.Time) {
	if m.deps.Events == nil || m.opts.EventRetention <= 0 {
		return
	}
	if err := m.deps.Events.DeleteHealthEventsBefore(ctx, at.Add(-m.opts.EventRetention)); err != nil {
		m.logger.Error().Err(err).Msg("failed to prune health events")
	}
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.opts.LockKey == 0 || m.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.deps.Locker.TryAdvisoryLock(ctx, m.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
