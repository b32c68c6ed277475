package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	highValuePoints   = 25.0
	ratePointsCap     = 40.0
	chargebackWeight  = 3.0
	velocityPoints    = 15.0
	defaultHighTier   = 40.0
	defaultMediumTier = 20.0
	defaultBreachBump = 40.0
)

// Thresholds parameterise the classifier. Freeze thresholds vary between
// processors and policies, so none of them is hard-coded.
type Thresholds struct {
	// HighValueAmount is expressed in minor units.
	HighValueAmount      decimal.Decimal
	RefundFreezeRate     float64
	ChargebackFreezeRate float64
	// FreezeBreachPoints is added once when any freeze threshold is met; zero disables it.
	FreezeBreachPoints   float64
	// HighTierScore and MediumTierScore are the inclusive score cutoffs for
	// HIGH and MEDIUM. Both zero selects 40 and 20.
	HighTierScore        float64
	MediumTierScore      float64
	MaxEffort            Effort
}

// DefaultThresholds returns the reference policy: $10,000 high-value amount,
// 5% refund and 1% chargeback freeze rates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighValueAmount:      decimal.NewFromInt(1_000_000),
		RefundFreezeRate:     0.05,
		ChargebackFreezeRate: 0.01,
		FreezeBreachPoints:   defaultBreachBump,
		HighTierScore:        defaultHighTier,
		MediumTierScore:      defaultMediumTier,
		MaxEffort:            EffortHigh,
	}
}

// Assessment is the auditable result of classifying one signal.
type Assessment struct {
	Score     float64         `json:"score"`
	Tier      Tier            `json:"tier"`
	Effort    Effort          `json:"effort"`
	Signal    Signal          `json:"signal"`
	Amount    decimal.Decimal `json:"amount"`
	Breaches  []string        `json:"breaches,omitempty"`
	Rationale string          `json:"rationale"`
}

// Classifier converts signals into tiers and effort levels. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	th Thresholds
}

// NewClassifier validates thresholds and builds a classifier.
func NewClassifier(th Thresholds) (*Classifier, error) {
	if th.HighValueAmount.IsNegative() {
		return nil, fmt.Errorf("high value amount cannot be negative")
	}
	if th.RefundFreezeRate < 0 || th.RefundFreezeRate > 1 {
		return nil, fmt.Errorf("refund freeze rate %.4f outside [0,1]", th.RefundFreezeRate)
	}
	if th.ChargebackFreezeRate < 0 || th.ChargebackFreezeRate > 1 {
		return nil, fmt.Errorf("chargeback freeze rate %.4f outside [0,1]", th.ChargebackFreezeRate)
	}
	if th.FreezeBreachPoints < 0 {
		return nil, fmt.Errorf("freeze breach points cannot be negative")
	}
	if th.HighTierScore == 0 && th.MediumTierScore == 0 {
		th.HighTierScore, th.MediumTierScore = defaultHighTier, defaultMediumTier
	}
	if th.MediumTierScore <= 0 || th.MediumTierScore > th.HighTierScore {
		return nil, fmt.Errorf("tier cutoffs must satisfy 0 < medium (%.2f) <= high (%.2f)", th.MediumTierScore, th.HighTierScore)
	}
	if th.MaxEffort == "" {
		th.MaxEffort = EffortHigh
	}
	if th.MaxEffort.Rank() < 0 {
		return nil, fmt.Errorf("unknown max effort %q", th.MaxEffort)
	}
	return &Classifier{th: th}, nil
}

// Thresholds returns the policy in use.
func (c *Classifier) Thresholds() Thresholds {
	return c.th
}

// Classify scores signal for a transaction of amount (minor units).
func (c *Classifier) Classify(signal Signal, amount decimal.Decimal) (Assessment, error) {
	if err := signal.Validate(); err != nil {
		return Assessment{}, err
	}
	if amount.IsNegative() {
		return Assessment{}, fmt.Errorf("%w: negative amount %s", ErrInvalidSignal, amount)
	}

	var (
		score float64
		parts []string
	)

	if amount.GreaterThanOrEqual(c.th.HighValueAmount) {
		score += highValuePoints
		parts = append(parts, fmt.Sprintf("high value amount +%.0f", highValuePoints))
	}

	ratePoints := clamp(100*math.Max(signal.RefundRateFactor, signal.ChargebackRateFactor*chargebackWeight), 0, ratePointsCap)
	if ratePoints > 0 {
		score += ratePoints
		parts = append(parts, fmt.Sprintf("refund/chargeback rate +%.2f", ratePoints))
	}

	if signal.VolumeSpike {
		v := velocityPoints * signal.VelocityFactor
		score += v
		parts = append(parts, fmt.Sprintf("volume spike +%.2f", v))
	}

	breaches := c.breaches(signal)
	if len(breaches) > 0 && c.th.FreezeBreachPoints > 0 {
		score += c.th.FreezeBreachPoints
		parts = append(parts, fmt.Sprintf("freeze threshold breached (%s) +%.0f", strings.Join(breaches, ", "), c.th.FreezeBreachPoints))
	}

	tier := c.TierForScore(score)
	rationale := "no risk contributions"
	if len(parts) > 0 {
		rationale = strings.Join(parts, "; ")
	}

	return Assessment{
		Score:     score,
		Tier:      tier,
		Effort:    EffortForTier(tier, c.th.MaxEffort),
		Signal:    signal,
		Amount:    amount,
		Breaches:  breaches,
		Rationale: rationale,
	}, nil
}

func (c *Classifier) breaches(s Signal) []string {
	var out []string
	if c.th.RefundFreezeRate > 0 && s.RefundRateFactor >= c.th.RefundFreezeRate {
		out = append(out, FactorRefundRate)
	}
	if c.th.ChargebackFreezeRate > 0 && s.ChargebackRateFactor >= c.th.ChargebackFreezeRate {
		out = append(out, FactorChargebackRate)
	}
	if s.VolumeSpike && s.VelocityFactor >= 1 {
		out = append(out, FactorVelocity)
	}
	return out
}

// TierForScore maps an additive score onto a tier using the configured cutoffs.
func (c *Classifier) TierForScore(score float64) Tier {
	switch {
	case score >= c.th.HighTierScore:
		return TierHigh
	case score >= c.th.MediumTierScore:
		return TierMedium
	default:
		return TierMinimal
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
