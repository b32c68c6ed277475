package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidSignal indicates a factor outside [0,1] or a negative amount.
var ErrInvalidSignal = errors.New("risk: invalid signal")

// Tier is the discrete risk classification of a transaction.
type Tier string

const (
	TierMinimal Tier = "MINIMAL"
	TierMedium  Tier = "MEDIUM"
	TierHigh    Tier = "HIGH"
)

// Rank orders tiers from MINIMAL (0) to HIGH (2); unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierMinimal:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	}
	return -1
}

// ParseTier accepts tier names case-insensitively.
func ParseTier(v string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(v)))
	if t.Rank() < 0 {
		return "", fmt.Errorf("unknown risk tier %q", v)
	}
	return t, nil
}

// Effort is the depth of analysis run before a routing decision.
type Effort string

const (
	EffortMinimal Effort = "minimal"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
)

// Rank orders effort levels from minimal (0) to high (2); unknown levels rank -1.
func (e Effort) Rank() int {
	switch e {
	case EffortMinimal:
		return 0
	case EffortMedium:
		return 1
	case EffortHigh:
		return 2
	}
	return -1
}

// ParseEffort accepts effort names case-insensitively.
func ParseEffort(v string) (Effort, error) {
	e := Effort(strings.ToLower(strings.TrimSpace(v)))
	if e.Rank() < 0 {
		return "", fmt.Errorf("unknown effort %q", v)
	}
	return e, nil
}

// EffortForTier maps a tier onto an effort level, never exceeding limit. An
// empty limit applies no cap.
func EffortForTier(t Tier, limit Effort) Effort {
	var effort Effort
	switch t {
	case TierHigh:
		effort = EffortHigh
	case TierMedium:
		effort = EffortMedium
	default:
		effort = EffortMinimal
	}
	if limit.Rank() >= 0 && effort.Rank() > limit.Rank() {
		return limit
	}
	return effort
}

// Factor names used in signals, logs and audit records.
const (
	FactorAmount         = "amount_factor"
	FactorVelocity       = "velocity_factor"
	FactorRefundRate     = "refund_rate_factor"
	FactorChargebackRate = "chargeback_rate_factor"
)

// Signal carries the normalised risk factors for one decision or batch.
type Signal struct {
	AmountFactor         float64 `json:"amount_factor"`
	VelocityFactor       float64 `json:"velocity_factor"`
	RefundRateFactor     float64 `json:"refund_rate_factor"`
	ChargebackRateFactor float64 `json:"chargeback_rate_factor"`
	VolumeSpike          bool    `json:"volume_spike"`
	Rationale            string  `json:"rationale,omitempty"`
}

// Factors returns the named factor values.
func (s Signal) Factors() map[string]float64 {
	return map[string]float64{
		FactorAmount:         s.AmountFactor,
		FactorVelocity:       s.VelocityFactor,
		FactorRefundRate:     s.RefundRateFactor,
		FactorChargebackRate: s.ChargebackRateFactor,
	}
}

// Validate rejects NaN or out-of-range factors.
func (s Signal) Validate() error {
	for name, v := range s.Factors() {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidSignal, name, v)
		}
	}
	return nil
}
