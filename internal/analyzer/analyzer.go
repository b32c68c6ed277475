package analyzer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"payment-router/internal/payment"
	"payment-router/internal/risk"
	"payment-router/internal/synth"
)

var ErrEmptyBatch = errors.New("no charges in window")

// Config tunes the analyzer. Rates are fractions, amounts minor units.
type Config struct {
	// ExpectedDailyVolume is the normal number of charges per day.
	ExpectedDailyVolume float64
	// SpikeFreezeMultiplier maps to a velocity factor of 1.
	SpikeFreezeMultiplier float64
	// SpikeReviewMultiplier flags a volume spike.
	SpikeReviewMultiplier float64
	HighValueAmount       decimal.Decimal
	HourlyPeakMultiplier  float64
	RapidInterval         time.Duration
	RapidShare            float64
	RapidRefundWindow     time.Duration
	RapidRefundMin        int
	AnomalySpread         float64
	Strict                bool
}

// DefaultConfig matches the reference freeze policy.
func DefaultConfig() Config {
	return Config{
		ExpectedDailyVolume:   50,
		SpikeFreezeMultiplier: 10,
		SpikeReviewMultiplier: 5,
		HighValueAmount:       decimal.NewFromInt(1_000_000),
		HourlyPeakMultiplier:  5,
		RapidInterval:         time.Minute,
		RapidShare:            0.3,
		RapidRefundWindow:     time.Hour,
		RapidRefundMin:        5,
		AnomalySpread:         2,
	}
}

func (c Config) validate() error {
	switch {
	case c.ExpectedDailyVolume <= 0:
		return errors.New("expected daily volume must be positive")
	case c.SpikeFreezeMultiplier <= 0 || c.SpikeReviewMultiplier <= 0:
		return errors.New("spike multipliers must be positive")
	case !c.HighValueAmount.IsPositive():
		return errors.New("high value amount must be positive")
	case c.HourlyPeakMultiplier <= 0 || c.AnomalySpread <= 0:
		return errors.New("peak and anomaly multipliers must be positive")
	case c.RapidShare < 0 || c.RapidShare > 1:
		return errors.New("rapid share must be within [0,1]")
	}
	return nil
}

// Analyzer turns a window of transactions into a risk signal. It is
// stateless and safe for concurrent use.
type Analyzer struct {
	cfg Config
}

func New(cfg Config) (*Analyzer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("analyzer config: %w", err)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Stats are the window aggregates behind a signal.
type Stats struct {
	Charges        int             `json:"charges"`
	Refunds        int             `json:"refunds"`
	Chargebacks    int             `json:"chargebacks"`
	Span           time.Duration   `json:"span"`
	Expected       float64         `json:"expected"`
	VolumeRatio    float64         `json:"volume_ratio"`
	MeanAmount     decimal.Decimal `json:"mean_amount"`
	RefundRate     float64         `json:"refund_rate"`
	ChargebackRate float64         `json:"chargeback_rate"`
}

// Analyze computes the signal for txs. Refunds and chargebacks are counted
// against the charges present in the same window.
func (a *Analyzer) Analyze(txs []payment.Transaction) (risk.Signal, error) {
	sig, _, err := a.analyze(txs)
	return sig, err
}

func (a *Analyzer) analyze(txs []payment.Transaction) (risk.Signal, Stats, error) {
	var (
		st          Stats
		first, last time.Time
		sum         = decimal.Zero
	)
	for _, tx := range txs {
		switch tx.Type {
		case payment.TypeCharge:
			st.Charges++
			sum = sum.Add(tx.Amount)
			if first.IsZero() || tx.Created.Before(first) {
				first = tx.Created
			}
			if tx.Created.After(last) {
				last = tx.Created
			}
		case payment.TypeRefund:
			st.Refunds++
		case payment.TypeChargeback:
			st.Chargebacks++
		}
	}

	if st.Charges == 0 {
		if a.cfg.Strict {
			return risk.Signal{}, st, ErrEmptyBatch
		}
		st.MeanAmount = decimal.Zero
		return risk.Signal{Rationale: "empty window"}, st, nil
	}

	total := float64(st.Charges)
	st.Span = last.Sub(first)
	st.Expected = a.cfg.ExpectedDailyVolume * max(st.Span, time.Hour).Hours() / 24
	st.VolumeRatio = total / st.Expected
	st.MeanAmount = sum.Div(decimal.NewFromInt(int64(st.Charges))).Round(0)
	st.RefundRate = math.Min(1, float64(st.Refunds)/total)
	st.ChargebackRate = math.Min(1, float64(st.Chargebacks)/total)

	sig := risk.Signal{
		AmountFactor:         math.Min(1, st.MeanAmount.Div(a.cfg.HighValueAmount).InexactFloat64()),
		VelocityFactor:       math.Min(1, st.VolumeRatio/a.cfg.SpikeFreezeMultiplier),
		RefundRateFactor:     st.RefundRate,
		ChargebackRateFactor: st.ChargebackRate,
		VolumeSpike:          st.VolumeRatio >= a.cfg.SpikeReviewMultiplier,
	}
	sig.Rationale = fmt.Sprintf(
		"charges=%d refunds=%d chargebacks=%d refund_rate=%.4f chargeback_rate=%.4f volume=%.2fx",
		st.Charges, st.Refunds, st.Chargebacks, st.RefundRate, st.ChargebackRate, st.VolumeRatio,
	)
	return sig, st, nil
}

// BatchResult is the outcome of assessing a generated batch.
type BatchResult struct {
	Stats      Stats           `json:"stats"`
	Assessment risk.Assessment `json:"assessment"`
	Report     Report          `json:"report"`
}

// AssessBatch analyzes batch, classifies it using the mean charge amount and
// runs the inspection stages allowed by the resulting effort.
func (a *Analyzer) AssessBatch(batch synth.Batch, classifier *risk.Classifier) (BatchResult, error) {
	sig, st, err := a.analyze(batch.Transactions)
	if err != nil {
		return BatchResult{}, err
	}
	assessment, err := classifier.Classify(sig, st.MeanAmount)
	if err != nil {
		return BatchResult{}, fmt.Errorf("classify batch: %w", err)
	}
	report, err := a.Inspect(batch.Transactions, assessment.Effort)
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Stats: st, Assessment: assessment, Report: report}, nil
}
