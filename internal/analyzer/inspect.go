package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"payment-router/internal/payment"
	"payment-router/internal/risk"
)

// Stage names an inspection step.
type Stage string

const (
	StageSignal          Stage = "signal"
	StageHourlyPeaks     Stage = "hourly_peaks"
	StageRapidSuccession Stage = "rapid_succession"
	StageRapidRefunds    Stage = "rapid_refunds"
	StageAmountAnomaly   Stage = "amount_anomaly"
	StageDescriptions    Stage = "descriptions"
)

// StagesFor lists the stages run at effort, cheapest first.
func StagesFor(effort risk.Effort) []Stage {
	stages := []Stage{StageSignal}
	if effort.Rank() >= risk.EffortMedium.Rank() {
		stages = append(stages, StageHourlyPeaks, StageRapidSuccession)
	}
	if effort.Rank() >= risk.EffortHigh.Rank() {
		stages = append(stages, StageRapidRefunds, StageAmountAnomaly, StageDescriptions)
	}
	return stages
}

// Finding is one suspicious observation.
type Finding struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// HourlyPeak summarises charge clustering by hour.
type HourlyPeak struct {
	Peak       time.Time `json:"peak"`
	Max        int       `json:"max"`
	Average    float64   `json:"average"`
	Ratio      float64   `json:"ratio"`
	Suspicious bool      `json:"suspicious"`
}

// Report is the effort-gated inspection of a window.
type Report struct {
	Effort          risk.Effort `json:"effort"`
	Stages          []Stage     `json:"stages"`
	Signal          risk.Signal `json:"signal"`
	Hourly          *HourlyPeak `json:"hourly,omitempty"`
	RapidShare      float64     `json:"rapid_share,omitempty"`
	RapidRefunds    int         `json:"rapid_refunds,omitempty"`
	AmountMean      float64     `json:"amount_mean,omitempty"`
	AmountStdDev    float64     `json:"amount_std_dev,omitempty"`
	FlaggedMessages []string    `json:"flagged_messages,omitempty"`
	Findings        []Finding   `json:"findings"`
}

// Summary joins the findings for audit rationale.
func (r Report) Summary() string {
	if len(r.Findings) == 0 {
		return "no findings"
	}
	parts := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		parts[i] = string(f.Stage) + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

var suspiciousKeywords = []string{"fraud", "dispute", "unauthorized", "stolen", "error"}

// Inspect computes the signal and runs the deeper stages permitted by effort.
func (a *Analyzer) Inspect(txs []payment.Transaction, effort risk.Effort) (Report, error) {
	if _, err := risk.ParseEffort(string(effort)); err != nil {
		return Report{}, err
	}
	sig, _, err := a.analyze(txs)
	if err != nil {
		return Report{}, err
	}

	report := Report{Effort: effort, Stages: StagesFor(effort), Signal: sig, Findings: []Finding{}}
	charges := chargesOf(txs)

	for _, stage := range report.Stages {
		switch stage {
		case StageHourlyPeaks:
			a.hourlyPeaks(&report, charges)
		case StageRapidSuccession:
			a.rapidSuccession(&report, charges)
		case StageRapidRefunds:
			a.rapidRefunds(&report, txs)
		case StageAmountAnomaly:
			a.amountAnomaly(&report, charges)
		case StageDescriptions:
			describeSuspicious(&report, txs)
		}
	}
	return report, nil
}

func (a *Analyzer) hourlyPeaks(r *Report, charges []payment.Transaction) {
	if len(charges) == 0 {
		return
	}
	buckets := make(map[time.Time]int)
	for _, ch := range charges {
		buckets[ch.Created.Truncate(time.Hour)]++
	}

	peak := HourlyPeak{Average: float64(len(charges)) / float64(len(buckets))}
	for hour, n := range buckets {
		if n > peak.Max || (n == peak.Max && hour.Before(peak.Peak)) {
			peak.Max, peak.Peak = n, hour
		}
	}
	peak.Ratio = float64(peak.Max) / peak.Average
	peak.Suspicious = float64(peak.Max) > peak.Average*a.cfg.HourlyPeakMultiplier
	r.Hourly = &peak

	if peak.Suspicious {
		r.Findings = append(r.Findings, Finding{
			Stage:   StageHourlyPeaks,
			Message: fmt.Sprintf("%d charges in hour %s, %.1fx the hourly average", peak.Max, peak.Peak.Format(time.RFC3339), peak.Ratio),
		})
	}
}

func (a *Analyzer) rapidSuccession(r *Report, charges []payment.Transaction) {
	if len(charges) < 2 {
		return
	}
	rapid := 0
	for i := 1; i < len(charges); i++ {
		if charges[i].Created.Sub(charges[i-1].Created) < a.cfg.RapidInterval {
			rapid++
		}
	}
	r.RapidShare = float64(rapid) / float64(len(charges)-1)
	if r.RapidShare > a.cfg.RapidShare {
		r.Findings = append(r.Findings, Finding{
			Stage:   StageRapidSuccession,
			Message: fmt.Sprintf("%.0f%% of charges arrived less than %s apart", r.RapidShare*100, a.cfg.RapidInterval),
		})
	}
}

func (a *Analyzer) rapidRefunds(r *Report, txs []payment.Transaction) {
	created := make(map[string]time.Time)
	for _, tx := range txs {
		if tx.Type == payment.TypeCharge {
			created[tx.ID] = tx.Created
		}
	}
	for _, tx := range txs {
		if tx.Type != payment.TypeRefund {
			continue
		}
		at, ok := created[tx.SourceID]
		if !ok {
			continue
		}
		if d := tx.Created.Sub(at); d >= 0 && d < a.cfg.RapidRefundWindow {
			r.RapidRefunds++
		}
	}
	if r.RapidRefunds > a.cfg.RapidRefundMin {
		r.Findings = append(r.Findings, Finding{
			Stage:   StageRapidRefunds,
			Message: fmt.Sprintf("%d refunds issued within %s of the original charge", r.RapidRefunds, a.cfg.RapidRefundWindow),
		})
	}
}

func (a *Analyzer) amountAnomaly(r *Report, charges []payment.Transaction) {
	if len(charges) < 2 {
		return
	}
	var sum float64
	for _, ch := range charges {
		sum += ch.Amount.InexactFloat64()
	}
	mean := sum / float64(len(charges))

	var sq float64
	for _, ch := range charges {
		d := ch.Amount.InexactFloat64() - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(len(charges)-1))

	r.AmountMean, r.AmountStdDev = mean, sd
	if sd > mean*a.cfg.AnomalySpread {
		r.Findings = append(r.Findings, Finding{
			Stage:   StageAmountAnomaly,
			Message: fmt.Sprintf("amount standard deviation %.0f exceeds %.0fx the mean %.0f", sd, a.cfg.AnomalySpread, mean),
		})
	}
}

func describeSuspicious(r *Report, txs []payment.Transaction) {
	seen := make(map[string]bool)
	for _, tx := range txs {
		desc := strings.ToLower(tx.Description)
		for _, kw := range suspiciousKeywords {
			if strings.Contains(desc, kw) && !seen[tx.Description] {
				seen[tx.Description] = true
				r.FlaggedMessages = append(r.FlaggedMessages, tx.Description)
				break
			}
		}
	}
	sort.Strings(r.FlaggedMessages)
	if len(r.FlaggedMessages) > 0 {
		r.Findings = append(r.Findings, Finding{
			Stage:   StageDescriptions,
			Message: fmt.Sprintf("%d distinct suspicious descriptions", len(r.FlaggedMessages)),
		})
	}
}

func chargesOf(txs []payment.Transaction) []payment.Transaction {
	out := make([]payment.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Type == payment.TypeCharge {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
