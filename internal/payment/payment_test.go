package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeModelFee(t *testing.T) {
	cases := []struct {
		name   string
		model  FeeModel
		amount int64
		want   int64
		kind   string
	}{
		{"mixed", FeeModel{Rate: decimal.RequireFromString("0.029"), Fixed: decimal.NewFromInt(30)}, 1_000, 59, "mixed"},
		{"percentage rounds to whole unit", FeeModel{Rate: decimal.RequireFromString("0.025")}, 1_010, 25, "percentage"},
		{"flat", FeeModel{Fixed: decimal.NewFromInt(50)}, 2_500_000, 50, "flat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.model.Fee(decimal.NewFromInt(tc.amount))
			assert.True(t, decimal.NewFromInt(tc.want).Equal(got), "got %s", got)
			assert.Equal(t, tc.kind, tc.model.Kind())
		})
	}
}

func TestFeeModelCompare(t *testing.T) {
	stripe := FeeModel{Rate: decimal.RequireFromString("0.029"), Fixed: decimal.NewFromInt(30)}
	paypal := FeeModel{Rate: decimal.RequireFromString("0.035"), Fixed: decimal.NewFromInt(49)}

	assert.Equal(t, -1, stripe.Compare(paypal))
	assert.Equal(t, 1, paypal.Compare(stripe))
	assert.Equal(t, 0, stripe.Compare(stripe))
}

func TestParseHealth(t *testing.T) {
	for in, want := range map[string]Health{
		"active":    HealthActive,
		" Healthy ": HealthActive,
		"DEGRADED":  HealthDegraded,
		"frozen":    HealthFrozen,
	} {
		got, err := ParseHealth(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseHealth("suspended")
	assert.Error(t, err)

	assert.True(t, HealthDegraded.Routable())
	assert.False(t, HealthFrozen.Routable())
	assert.False(t, Health("DOWN").Valid())
}

func TestTransactionNet(t *testing.T) {
	ch := Transaction{Type: TypeCharge, Amount: decimal.NewFromInt(10_000), Fee: decimal.NewFromInt(320)}
	re := Transaction{Type: TypeRefund, Amount: decimal.NewFromInt(10_000)}
	cb := Transaction{Type: TypeChargeback, Amount: decimal.NewFromInt(10_000), Fee: decimal.NewFromInt(1_500)}

	assert.True(t, decimal.NewFromInt(9_680).Equal(ch.Net()))
	assert.True(t, decimal.NewFromInt(-10_000).Equal(re.Net()))
	assert.True(t, decimal.NewFromInt(-11_500).Equal(cb.Net()))
	assert.True(t, decimal.NewFromInt(-10_000).Equal(cb.SignedAmount()))
}

func TestNewTransaction(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	tx, err := NewTransaction("ch_1", decimal.NewFromInt(2_500), "eur", "invoice", at, "B2B")
	require.NoError(t, err)

	assert.Equal(t, TypeCharge, tx.Type)
	assert.Equal(t, "EUR", tx.Currency)
	assert.Equal(t, time.UTC, tx.Created.Location())
	assert.True(t, tx.HasTag("b2b"))

	_, err = NewTransaction("ch_2", decimal.NewFromInt(-1), "usd", "", at)
	assert.Error(t, err)
	_, err = NewTransaction("ch_3", decimal.NewFromInt(1), "dollars", "", at)
	assert.Error(t, err)
}

func TestMinorUnitConversion(t *testing.T) {
	assert.True(t, decimal.NewFromInt(12_551).Equal(ToMinor(decimal.RequireFromString("125.505"))))
	assert.Equal(t, "125.50 USD", FormatMinor(decimal.NewFromInt(12_550), "USD"))
	assert.True(t, decimal.RequireFromString("0.3").Equal(ToMajor(decimal.NewFromInt(30))))
}
