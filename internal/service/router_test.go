package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-router/internal/analyzer"
	"payment-router/internal/dispatch"
	"payment-router/internal/payment"
	"payment-router/internal/registry"
	"payment-router/internal/risk"
	"payment-router/internal/routing"
)

func newTestRouter(t *testing.T, reg *registry.Registry, d dispatch.Dispatcher, store *memoryStore) *Router {
	t.Helper()
	classifier, err := risk.NewClassifier(risk.DefaultThresholds())
	require.NoError(t, err)
	an, err := analyzer.New(analyzer.DefaultConfig())
	require.NoError(t, err)

	deps := RouterDeps{
		Registry:   reg,
		Engine:     routing.NewEngine(testClock),
		Classifier: classifier,
		Analyzer:   an,
		Dispatcher: d,
	}
	if store != nil {
		deps.Decisions = store
		deps.Assessments = store
	}
	router, err := NewRouter(deps, RouterOptions{MaxAttempts: 3, Window: 24 * time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	return router
}

func TestProcessApprovesOnPrimary(t *testing.T) {
	store := &memoryStore{}
	d := &scriptedDispatcher{}
	router := newTestRouter(t, newCatalogRegistry(t), d, store)

	out, err := router.Process(context.Background(), charge(t, "ch_1", 1_000, testClock()))
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, risk.TierMinimal, out.Assessment.Tier)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, "stripe", out.Final().Selected)
	assert.Equal(t, routing.KindPrimary, out.Final().Kind)
	assert.Equal(t, []string{"stripe"}, d.calls)
	require.Len(t, out.Receipts, 1)

	require.Len(t, store.decisions, 1)
	rec := store.decisions[0]
	assert.Equal(t, "ch_1", rec.TransactionID)
	require.NotNil(t, rec.Selected)
	assert.Equal(t, "stripe", *rec.Selected)
	require.NotNil(t, rec.DispatchOutcome)
	assert.Equal(t, string(dispatch.OutcomeApproved), *rec.DispatchOutcome)
	assert.JSONEq(t, `[]`, string(rec.Eliminated))
	require.Len(t, store.assessments, 1)
	assert.Equal(t, "MINIMAL", store.assessments[0].Tier)
}

func TestProcessFallsBackAfterSoftDecline(t *testing.T) {
	d := &scriptedDispatcher{outcomes: map[string]dispatch.Outcome{"stripe": dispatch.OutcomeSoftDecline}}
	router := newTestRouter(t, newCatalogRegistry(t), d, nil)

	out, err := router.Process(context.Background(), charge(t, "ch_2", 1_000, testClock()))
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, out.Status)
	require.Len(t, out.Decisions, 2)
	first, second := out.Decisions[0], out.Decisions[1]
	assert.Equal(t, "stripe", first.Selected)
	assert.Equal(t, routing.KindFallback, second.Kind)
	assert.Equal(t, []string{"stripe"}, second.Excluded)
	assert.Equal(t, "visa", second.Selected)
	assert.Greater(t, second.Sequence, first.Sequence)
	assert.Equal(t, []string{"stripe", "visa"}, d.calls)
}

func TestProcessStopsOnHardDecline(t *testing.T) {
	d := &scriptedDispatcher{outcomes: map[string]dispatch.Outcome{"stripe": dispatch.OutcomeHardDecline}}
	router := newTestRouter(t, newCatalogRegistry(t), d, nil)

	out, err := router.Process(context.Background(), charge(t, "ch_3", 1_000, testClock()))
	require.NoError(t, err)

	assert.Equal(t, StatusDeclined, out.Status)
	assert.Len(t, out.Decisions, 1)
	assert.Equal(t, []string{"stripe"}, d.calls)
}

func TestProcessExhaustsAttempts(t *testing.T) {
	d := &scriptedDispatcher{outcomes: map[string]dispatch.Outcome{
		"stripe": dispatch.OutcomeError,
		"paypal": dispatch.OutcomeSoftDecline,
		"visa":   dispatch.OutcomeError,
	}}
	router := newTestRouter(t, newCatalogRegistry(t), d, nil)

	out, err := router.Process(context.Background(), charge(t, "ch_4", 1_000, testClock()))
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, out.Status)
	require.Len(t, out.Decisions, 3)
	assert.Equal(t, routing.KindEmergency, out.Final().Kind)
	assert.ElementsMatch(t, []string{"stripe", "paypal", "visa"}, d.calls)
}

func TestProcessReportsNoProcessor(t *testing.T) {
	reg := newCatalogRegistry(t)
	for _, id := range reg.IDs() {
		_, err := reg.SetHealth(id, payment.HealthFrozen)
		require.NoError(t, err)
	}
	store := &memoryStore{}
	d := &scriptedDispatcher{}
	router := newTestRouter(t, reg, d, store)

	out, err := router.Process(context.Background(), charge(t, "ch_5", 1_000, testClock()))
	require.NoError(t, err)

	assert.Equal(t, StatusNoProcessor, out.Status)
	assert.Equal(t, routing.OutcomeNoProcessorAvailable, out.Final().Outcome)
	assert.Empty(t, d.calls)
	require.Len(t, store.decisions, 1)
	assert.Nil(t, store.decisions[0].Selected)
}

func TestProcessRouteOnlyWithoutDispatcher(t *testing.T) {
	router := newTestRouter(t, newCatalogRegistry(t), nil, nil)

	out, err := router.Process(context.Background(), charge(t, "ch_6", 1_000, testClock()))
	require.NoError(t, err)
	assert.Equal(t, StatusRouted, out.Status)
	assert.Equal(t, "stripe", out.Final().Selected)
	assert.Empty(t, out.Receipts)
}

func TestProcessTierOverride(t *testing.T) {
	router := newTestRouter(t, newCatalogRegistry(t), nil, nil)

	out, err := router.Process(context.Background(), charge(t, "ch_7", 1_000, testClock()), WithTier(risk.TierHigh))
	require.NoError(t, err)

	assert.Equal(t, risk.TierHigh, out.Assessment.Tier)
	assert.Equal(t, risk.EffortHigh, out.Assessment.Effort)
	assert.Contains(t, out.Assessment.Rationale, "overridden")
	assert.Equal(t, "visa", out.Final().Selected)
	assert.Len(t, out.Report.Stages, 6)
}

func TestProcessRejectsUnknownTierOverride(t *testing.T) {
	store := &memoryStore{}
	router := newTestRouter(t, newCatalogRegistry(t), nil, store)

	_, err := router.Process(context.Background(), charge(t, "ch_8", 1_000, testClock()), WithTier(risk.Tier("bogus")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Empty(t, store.decisions)
}

func TestProcessRejectsReversals(t *testing.T) {
	router := newTestRouter(t, newCatalogRegistry(t), nil, nil)
	tx := charge(t, "re_1", 1_000, testClock())
	tx.Type = payment.TypeRefund

	_, err := router.Process(context.Background(), tx)
	require.Error(t, err)
}

func TestProcessLogsStoreFailures(t *testing.T) {
	store := &memoryStore{fail: true}
	router := newTestRouter(t, newCatalogRegistry(t), &scriptedDispatcher{}, store)

	out, err := router.Process(context.Background(), charge(t, "ch_8", 1_000, testClock()))
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
}

func TestWindowDropsExpiredTransactions(t *testing.T) {
	router := newTestRouter(t, newCatalogRegistry(t), nil, nil)
	start := testClock()

	router.Observe(charge(t, "ch_old", 1_000, start.Add(-48*time.Hour)))
	router.Observe(charge(t, "ch_mid", 1_000, start.Add(-2*time.Hour)))
	_, err := router.Process(context.Background(), charge(t, "ch_new", 1_000, start))
	require.NoError(t, err)

	window := router.Window()
	require.Len(t, window, 2)
	assert.Equal(t, "ch_mid", window[0].ID)
	assert.Equal(t, "ch_new", window[1].ID)
}

func TestWindowKeepsChronologicalOrder(t *testing.T) {
	router := newTestRouter(t, newCatalogRegistry(t), nil, nil)
	start := testClock()

	router.Observe(charge(t, "ch_b", 1_000, start.Add(time.Minute)))
	router.Observe(charge(t, "ch_a", 1_000, start))
	refund := charge(t, "re_a", 1_000, start.Add(2*time.Minute))
	refund.Type = payment.TypeRefund
	refund.SourceID = "ch_a"
	router.Observe(refund)

	window := router.Window()
	require.Len(t, window, 3)
	assert.Equal(t, []string{"ch_a", "ch_b", "re_a"}, []string{window[0].ID, window[1].ID, window[2].ID})
}

func TestDecisionRecordCarriesCandidates(t *testing.T) {
	tx := charge(t, "ch_9", 2_500, testClock())
	d := routing.Decision{
		Sequence:      7,
		TransactionID: tx.ID,
		Tier:          risk.TierMedium,
		Effort:        risk.EffortMedium,
		Kind:          routing.KindPrimary,
		Outcome:       routing.OutcomeSelected,
		Selected:      "paypal",
		Candidates: []routing.Candidate{{
			ProcessorID: "paypal",
			Health:      payment.HealthActive,
			Fee:         decimal.NewFromInt(136),
			Reason:      routing.ReasonSelected,
		}},
		Eliminated: []routing.Candidate{{ProcessorID: "stripe", Health: payment.HealthFrozen, Reason: routing.ReasonFrozen}},
		DecidedAt:  testClock(),
	}

	rec, err := DecisionRecord(tx, d, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.Sequence)
	assert.Nil(t, rec.DispatchOutcome)
	assert.Contains(t, string(rec.Candidates), `"processor_id":"paypal"`)
	assert.Contains(t, string(rec.Eliminated), `"reason":"frozen"`)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(2_500)))
}
