package synth

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payment-router/internal/payment"
)

var (
	ErrUnknownPattern = errors.New("unknown synthetic pattern")
	ErrInvalidParams  = errors.New("invalid generator parameters")
)

// Pattern names a transaction shape known to trigger processor freezes.
type Pattern string

const (
	PatternBaseline        Pattern = "baseline"
	PatternVolumeSpike     Pattern = "volume_spike"
	PatternRefundSurge     Pattern = "refund_surge"
	PatternChargebackSurge Pattern = "chargeback_surge"
)

// Patterns lists every supported pattern.
func Patterns() []Pattern {
	return []Pattern{PatternBaseline, PatternVolumeSpike, PatternRefundSurge, PatternChargebackSurge}
}

// ParsePattern validates a pattern name.
func ParsePattern(v string) (Pattern, error) {
	for _, p := range Patterns() {
		if string(p) == v {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPattern, v)
}

// Rate bounds enforced for the surge patterns.
const (
	MinRefundSurgeRate     = 0.10
	MaxRefundSurgeRate     = 0.20
	MinChargebackSurgeRate = 0.015
	MaxChargebackSurgeRate = 0.035
	MinSpikeWindow         = 2 * time.Hour
	MaxSpikeWindow         = 4 * time.Hour
	minSpikeCharges        = 500
)

// Params fully determine a batch: equal params always produce equal output.
type Params struct {
	Pattern Pattern   `json:"pattern"`
	Seed    int64     `json:"seed"`
	Start   time.Time `json:"start"`
	Days    int       `json:"days"`
	// DailyVolume is the expected number of charges per day.
	DailyVolume int `json:"daily_volume"`
	// Volume, when positive, is the exact number of charges to emit.
	Volume          int             `json:"volume,omitempty"`
	MeanAmount      decimal.Decimal `json:"mean_amount"`
	SpikeMultiplier int             `json:"spike_multiplier"`
	SpikeWindow     time.Duration   `json:"spike_window"`
	RefundRate      float64         `json:"refund_rate"`
	ChargebackRate  float64         `json:"chargeback_rate"`
	ChargebackFee   decimal.Decimal `json:"chargeback_fee"`
	Currency        string          `json:"currency"`
}

// DefaultParams returns reference parameters for pattern. Start is left zero
// and must be set by the caller.
func DefaultParams(pattern Pattern, seed int64) Params {
	return Params{
		Pattern:         pattern,
		Seed:            seed,
		Days:            7,
		DailyVolume:     50,
		MeanAmount:      decimal.NewFromInt(8_500),
		SpikeMultiplier: 12,
		SpikeWindow:     3 * time.Hour,
		RefundRate:      0.15,
		ChargebackRate:  0.03,
		ChargebackFee:   decimal.NewFromInt(1_500),
		Currency:        "USD",
	}
}

// Validate checks the parameters and normalizes the currency code.
func (p *Params) Validate() error {
	if _, err := ParsePattern(string(p.Pattern)); err != nil {
		return err
	}
	if p.Start.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidParams)
	}
	if p.Days <= 0 {
		return fmt.Errorf("%w: days must be positive", ErrInvalidParams)
	}
	if p.DailyVolume <= 0 && p.Volume <= 0 {
		return fmt.Errorf("%w: daily volume must be positive", ErrInvalidParams)
	}
	if p.Volume < 0 {
		return fmt.Errorf("%w: volume cannot be negative", ErrInvalidParams)
	}
	if !p.MeanAmount.IsPositive() {
		return fmt.Errorf("%w: mean amount must be positive", ErrInvalidParams)
	}
	if p.ChargebackFee.IsNegative() {
		return fmt.Errorf("%w: chargeback fee cannot be negative", ErrInvalidParams)
	}
	if p.RefundRate < 0 || p.RefundRate > 1 || p.ChargebackRate < 0 || p.ChargebackRate > 1 {
		return fmt.Errorf("%w: rates must be within [0,1]", ErrInvalidParams)
	}

	switch p.Pattern {
	case PatternVolumeSpike:
		if p.SpikeMultiplier <= 0 {
			return fmt.Errorf("%w: spike multiplier must be positive", ErrInvalidParams)
		}
		if p.SpikeWindow < MinSpikeWindow || p.SpikeWindow > MaxSpikeWindow {
			return fmt.Errorf("%w: spike window %s outside [%s, %s]", ErrInvalidParams, p.SpikeWindow, MinSpikeWindow, MaxSpikeWindow)
		}
	case PatternRefundSurge:
		if p.RefundRate < MinRefundSurgeRate || p.RefundRate > MaxRefundSurgeRate {
			return fmt.Errorf("%w: refund rate %.3f outside [%.2f, %.2f]", ErrInvalidParams, p.RefundRate, MinRefundSurgeRate, MaxRefundSurgeRate)
		}
	case PatternChargebackSurge:
		if p.ChargebackRate < MinChargebackSurgeRate || p.ChargebackRate > MaxChargebackSurgeRate {
			return fmt.Errorf("%w: chargeback rate %.3f outside [%.3f, %.3f]", ErrInvalidParams, p.ChargebackRate, MinChargebackSurgeRate, MaxChargebackSurgeRate)
		}
	}

	code, err := payment.NormalizeCurrency(p.Currency)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	p.Currency = code
	p.Start = p.Start.UTC()
	return nil
}
