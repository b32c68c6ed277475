package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Health is the live availability of a processor.
type Health string

const (
	HealthActive   Health = "ACTIVE"
	HealthDegraded Health = "DEGRADED"
	HealthFrozen   Health = "FROZEN"
)

// Valid reports whether h is one of the known states.
func (h Health) Valid() bool {
	switch h {
	case HealthActive, HealthDegraded, HealthFrozen:
		return true
	}
	return false
}

// Routable reports whether a processor in this state may receive traffic.
func (h Health) Routable() bool {
	return h == HealthActive || h == HealthDegraded
}

// ParseHealth accepts the canonical names case-insensitively, plus the
// "healthy" alias reported by some status endpoints.
func ParseHealth(v string) (Health, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ACTIVE", "HEALTHY":
		return HealthActive, nil
	case "DEGRADED":
		return HealthDegraded, nil
	case "FROZEN":
		return HealthFrozen, nil
	}
	return "", fmt.Errorf("unknown health state %q", v)
}

// FeeModel charges Rate of the amount plus a Fixed minor-unit fee. A zero
// Rate describes a flat fee and a zero Fixed a pure percentage.
type FeeModel struct {
	Rate  decimal.Decimal `json:"rate"`
	Fixed decimal.Decimal `json:"fixed"`
}

// Fee computes the fee for amount (minor units), rounded to a whole minor unit.
func (f FeeModel) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(f.Rate).Add(f.Fixed).Round(0)
}

// Kind names the shape of the fee model.
func (f FeeModel) Kind() string {
	switch {
	case f.Rate.IsZero():
		return "flat"
	case f.Fixed.IsZero():
		return "percentage"
	default:
		return "mixed"
	}
}

// Compare orders fee models by rate, then fixed component.
func (f FeeModel) Compare(other FeeModel) int {
	if c := f.Rate.Cmp(other.Rate); c != 0 {
		return c
	}
	return f.Fixed.Cmp(other.Fixed)
}

// Processor is the static definition of a downstream payment processor plus
// its rolling performance estimates.
type Processor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Fee         FeeModel        `json:"fee"`
	SuccessRate float64         `json:"success_rate"`
	Latency     time.Duration   `json:"latency"`
	Priority    int             `json:"priority"`
	MaxAmount   decimal.Decimal `json:"max_amount"`
	StatusURL   string          `json:"status_url,omitempty"`
}

// Accepts reports whether amount fits the single-transaction limit. A zero
// limit means unlimited.
func (p Processor) Accepts(amount decimal.Decimal) bool {
	return p.MaxAmount.IsZero() || amount.LessThanOrEqual(p.MaxAmount)
}

// ProcessorState is a point-in-time view of a registered processor.
type ProcessorState struct {
	Processor
	Health    Health    `json:"health"`
	UpdatedAt time.Time `json:"updated_at"`
}
