package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"payment-router/internal/alerting"
	"payment-router/internal/dispatch"
	"payment-router/internal/payment"
	"payment-router/internal/probe"
	"payment-router/internal/registry"
	"payment-router/internal/storage"
)

var testClock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func newCatalogRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(testClock)
	for _, p := range registry.DefaultCatalog() {
		require.NoError(t, reg.Register(p, payment.HealthActive))
	}
	return reg
}

func charge(t *testing.T, id string, minor int64, at time.Time) payment.Transaction {
	t.Helper()
	tx, err := payment.NewTransaction(id, decimal.NewFromInt(minor), "usd", "test charge", at)
	require.NoError(t, err)
	return tx
}

// scriptedDispatcher answers per processor; unknown processors approve.
type scriptedDispatcher struct {
	mu       sync.Mutex
	outcomes map[string]dispatch.Outcome
	calls    []string
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, processorID string, tx payment.Transaction) (dispatch.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, processorID)

	outcome, ok := d.outcomes[processorID]
	if !ok {
		outcome = dispatch.OutcomeApproved
	}
	receipt := dispatch.Receipt{ProcessorID: processorID, Outcome: outcome, Latency: 10 * time.Millisecond}
	switch outcome {
	case dispatch.OutcomeSoftDecline, dispatch.OutcomeError:
		return receipt, fmt.Errorf("%w: %s", dispatch.ErrRejected, tx.ID)
	case dispatch.OutcomeHardDecline:
		return receipt, fmt.Errorf("%w: %s", dispatch.ErrDeclined, tx.ID)
	}
	return receipt, nil
}

type memoryStore struct {
	mu          sync.Mutex
	decisions   []storage.DecisionRecord
	assessments []storage.AssessmentRecord
	events      []storage.HealthEvent
	prunedTo    time.Time
	fail        bool
}

var errStoreDown = errors.New("store down")

func (s *memoryStore) InsertDecision(_ context.Context, rec storage.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *memoryStore) ListRecentDecisions(_ context.Context, limit int) ([]storage.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.decisions) {
		limit = len(s.decisions)
	}
	return append([]storage.DecisionRecord(nil), s.decisions[:limit]...), nil
}

func (s *memoryStore) CountDecisions(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.decisions)), nil
}

func (s *memoryStore) InsertAssessment(_ context.Context, rec storage.AssessmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	s.assessments = append(s.assessments, rec)
	return nil
}

func (s *memoryStore) InsertHealthEvent(_ context.Context, ev storage.HealthEvent) (storage.HealthEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *memoryStore) ListRecentHealthEvents(_ context.Context, limit int) ([]storage.HealthEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.HealthEvent(nil), s.events...), nil
}

func (s *memoryStore) DeleteHealthEventsBefore(_ context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunedTo = olderThan
	return nil
}

type stubLocker struct {
	acquired bool
	calls    int
	unlocked int
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	l.calls++
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked++ }, true, nil
}

type stubChecker struct {
	mu      sync.Mutex
	reports map[string]probe.Report
	errs    map[string]error
	checked []string
}

func (c *stubChecker) Check(_ context.Context, p payment.Processor) (probe.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = append(c.checked, p.ID)
	if err := c.errs[p.ID]; err != nil {
		return probe.Report{}, err
	}
	return c.reports[p.ID], nil
}

type recordingSink struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (s *recordingSink) Notify(_ context.Context, note alerting.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return true, nil
}
