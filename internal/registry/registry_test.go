package registry

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-router/internal/payment"
)

func fixedClock() func() time.Time {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := New(fixedClock())
	for _, p := range DefaultCatalog() {
		require.NoError(t, reg.Register(p, payment.HealthActive))
	}
	return reg
}

func TestRegisterDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Register(payment.Processor{ID: "stripe"}, payment.HealthActive)
	require.ErrorIs(t, err, ErrDuplicateProcessor)
	assert.Equal(t, 3, reg.Len())
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	reg := New(nil)

	tests := []struct {
		name string
		p    payment.Processor
	}{
		{name: "empty id", p: payment.Processor{}},
		{name: "negative rate", p: payment.Processor{ID: "x", Fee: payment.FeeModel{Rate: decimal.NewFromInt(-1)}}},
		{name: "rate above one", p: payment.Processor{ID: "x", Fee: payment.FeeModel{Rate: decimal.NewFromInt(2)}}},
		{name: "success rate above one", p: payment.Processor{ID: "x", SuccessRate: 1.5}},
		{name: "negative fixed fee", p: payment.Processor{ID: "x", Fee: payment.FeeModel{Fixed: decimal.NewFromInt(-5)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, reg.Register(tt.p, payment.HealthActive))
		})
	}

	require.ErrorIs(t, reg.Register(payment.Processor{ID: "ok"}, payment.Health("BROKEN")), ErrInvalidHealth)
}

func TestSetHealthUnknownProcessor(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.SetHealth("adyen", payment.HealthFrozen)
	require.ErrorIs(t, err, ErrUnknownProcessor)

	_, err = reg.SetHealth("stripe", payment.Health("PAUSED"))
	require.ErrorIs(t, err, ErrInvalidHealth)
}

func TestSetHealthVisibleImmediately(t *testing.T) {
	reg := newTestRegistry(t)

	tr, err := reg.SetHealth("stripe", payment.HealthFrozen)
	require.NoError(t, err)
	assert.True(t, tr.Changed())
	assert.Equal(t, payment.HealthActive, tr.From)

	for _, c := range reg.Candidates(nil) {
		assert.NotEqual(t, "stripe", c.ID)
	}

	tr, err = reg.SetHealth("stripe", payment.HealthFrozen)
	require.NoError(t, err)
	assert.False(t, tr.Changed())

	_, err = reg.SetHealth("stripe", payment.HealthActive)
	require.NoError(t, err)
	assert.Equal(t, "stripe", reg.Candidates(nil)[0].ID)
}

func TestCandidatesOrdering(t *testing.T) {
	reg := newTestRegistry(t)

	ids := func(states []payment.ProcessorState) []string {
		out := make([]string, len(states))
		for i, s := range states {
			out[i] = s.ID
		}
		return out
	}

	// stripe and paypal share priority 1; stripe is cheaper.
	assert.Equal(t, []string{"stripe", "paypal", "visa"}, ids(reg.Candidates(nil)))
	assert.Equal(t, []string{"paypal", "visa"}, ids(reg.Candidates(map[string]struct{}{"stripe": {}})))

	_, err := reg.SetHealth("paypal", payment.HealthDegraded)
	require.NoError(t, err)
	assert.Equal(t, []string{"stripe", "paypal", "visa"}, ids(reg.Candidates(nil)))
}

func TestCandidatesNeverIncludeFrozen(t *testing.T) {
	reg := newTestRegistry(t)
	rng := rand.New(rand.NewSource(42))
	ids := reg.IDs()
	states := []payment.Health{payment.HealthActive, payment.HealthDegraded, payment.HealthFrozen}

	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		_, err := reg.SetHealth(id, states[rng.Intn(len(states))])
		require.NoError(t, err)

		frozen := make(map[string]bool)
		for _, s := range reg.Snapshot() {
			if s.Health == payment.HealthFrozen {
				frozen[s.ID] = true
			}
		}
		for _, c := range reg.Candidates(nil) {
			require.False(t, frozen[c.ID], "frozen processor %s returned as candidate", c.ID)
		}
	}
}

func TestConcurrentTransitionsAndReads(t *testing.T) {
	reg := newTestRegistry(t)
	states := []payment.Health{payment.HealthActive, payment.HealthDegraded, payment.HealthFrozen}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				id := reg.IDs()[rng.Intn(3)]
				_, _ = reg.SetHealth(id, states[rng.Intn(3)])
				_ = reg.UpdateMetrics(id, rng.Float64(), time.Duration(rng.Intn(500))*time.Millisecond)
			}
		}(int64(w))
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				for _, c := range reg.Candidates(nil) {
					assert.True(t, c.Health.Routable())
				}
			}
		}()
	}
	wg.Wait()
}

func TestUpdateMetrics(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.UpdateMetrics("visa", 0.91, 900*time.Millisecond))

	state, err := reg.Get("visa")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, state.SuccessRate, 1e-9)
	assert.Equal(t, 900*time.Millisecond, state.Latency)

	assert.Error(t, reg.UpdateMetrics("visa", 1.2, 0))
	assert.ErrorIs(t, reg.UpdateMetrics("nope", 0.5, 0), ErrUnknownProcessor)
}
