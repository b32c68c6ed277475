package registry

import (
	"time"

	"github.com/shopspring/decimal"

	"payment-router/internal/payment"
)

var decimalOne = decimal.NewFromInt(1)

// DefaultCatalog is the reference processor set used when no processors are
// configured.
func DefaultCatalog() []payment.Processor {
	return []payment.Processor{
		{
			ID:          "stripe",
			Name:        "Stripe",
			Kind:        "card",
			Fee:         payment.FeeModel{Rate: decimal.RequireFromString("0.029"), Fixed: decimal.NewFromInt(30)},
			SuccessRate: 0.987,
			Latency:     245 * time.Millisecond,
			Priority:    1,
			MaxAmount:   decimal.NewFromInt(9_999_900),
		},
		{
			ID:          "paypal",
			Name:        "PayPal",
			Kind:        "wallet",
			Fee:         payment.FeeModel{Rate: decimal.RequireFromString("0.035"), Fixed: decimal.NewFromInt(49)},
			SuccessRate: 0.983,
			Latency:     312 * time.Millisecond,
			Priority:    1,
			MaxAmount:   decimal.NewFromInt(6_000_000),
		},
		{
			ID:          "visa",
			Name:        "Visa Direct",
			Kind:        "bank_transfer",
			Fee:         payment.FeeModel{Rate: decimal.RequireFromString("0.025"), Fixed: decimal.NewFromInt(50)},
			SuccessRate: 0.995,
			Latency:     189 * time.Millisecond,
			Priority:    2,
			MaxAmount:   decimal.NewFromInt(2_500_000),
		},
	}
}
