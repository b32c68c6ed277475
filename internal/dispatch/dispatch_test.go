package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-router/internal/payment"
)

var tx = payment.Transaction{ID: "ch_test", Type: payment.TypeCharge, Amount: decimal.NewFromInt(5_000), Currency: "USD"}

func TestSimulatedOutcomes(t *testing.T) {
	profiles := map[string]Profile{
		"always":   {Outcomes: Distribution{Approval: 1}},
		"soft":     {Outcomes: Distribution{SoftDecline: 1}},
		"hard":     {Outcomes: Distribution{HardDecline: 1}},
		"flaky":    {Outcomes: Distribution{Error: 1}},
		"variable": {Outcomes: Distribution{Approval: 1}, MinLatency: 10 * time.Millisecond, MaxLatency: 20 * time.Millisecond},
	}
	sim, err := NewSimulated(1, profiles, false)
	require.NoError(t, err)
	ctx := context.Background()

	r, err := sim.Dispatch(ctx, "always", tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, r.Outcome)

	_, err = sim.Dispatch(ctx, "soft", tx)
	assert.ErrorIs(t, err, ErrRejected)
	_, err = sim.Dispatch(ctx, "flaky", tx)
	assert.ErrorIs(t, err, ErrRejected)
	_, err = sim.Dispatch(ctx, "hard", tx)
	assert.ErrorIs(t, err, ErrDeclined)
	_, err = sim.Dispatch(ctx, "unknown", tx)
	assert.ErrorIs(t, err, ErrRejected)

	r, err = sim.Dispatch(ctx, "variable", tx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.Latency, 10*time.Millisecond)
	assert.LessOrEqual(t, r.Latency, 20*time.Millisecond)
}

func TestSimulatedIsSeeded(t *testing.T) {
	profiles := map[string]Profile{"p": {Outcomes: Distribution{Approval: 0.5, SoftDecline: 0.3, Error: 0.2}}}
	run := func() []Outcome {
		sim, err := NewSimulated(99, profiles, false)
		require.NoError(t, err)
		out := make([]Outcome, 200)
		for i := range out {
			r, _ := sim.Dispatch(context.Background(), "p", tx)
			out[i] = r.Outcome
		}
		return out
	}
	first := run()
	assert.Equal(t, first, run())

	approved := 0
	for _, o := range first {
		if o == OutcomeApproved {
			approved++
		}
	}
	assert.InDelta(t, 100, approved, 30)
}

func TestSimulatedHonoursContext(t *testing.T) {
	sim, err := NewSimulated(1, map[string]Profile{
		"slow": {Outcomes: Distribution{Approval: 1}, MinLatency: time.Hour, MaxLatency: time.Hour},
	}, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Dispatch(ctx, "slow", tx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSimulatedValidation(t *testing.T) {
	_, err := NewSimulated(1, map[string]Profile{"p": {Outcomes: Distribution{Approval: 0.5}}}, false)
	assert.Error(t, err)

	_, err = NewSimulated(1, map[string]Profile{"p": {Outcomes: Distribution{Approval: 1}, MinLatency: time.Second}}, false)
	assert.Error(t, err)
}

func TestProfileFor(t *testing.T) {
	p := ProfileFor(payment.Processor{ID: "stripe", SuccessRate: 0.9, Latency: 200 * time.Millisecond})
	assert.InDelta(t, 0.9, p.Outcomes.Approval, 1e-9)
	assert.InDelta(t, 0.05, p.Outcomes.SoftDecline, 1e-9)
	assert.InDelta(t, 0.05, p.Outcomes.Error, 1e-9)
	assert.Equal(t, 100*time.Millisecond, p.MinLatency)
	assert.Equal(t, 300*time.Millisecond, p.MaxLatency)
	assert.NoError(t, p.Outcomes.Validate())
}
