package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"payment-router/internal/analyzer"
	"payment-router/internal/payment"
	"payment-router/internal/risk"
)

// AnalyzeOptions configure batch analysis.
type AnalyzeOptions struct {
	In     string
	Strict bool
	JSON   bool
}

// Analyze assesses a stored batch and prints its signal, tier and findings.
func (a *App) Analyze(_ context.Context, opts AnalyzeOptions) (analyzer.BatchResult, error) {
	batch, err := readBatchFile(opts.In)
	if err != nil {
		return analyzer.BatchResult{}, err
	}

	settings := a.Config.AnalyzerSettings()
	if opts.Strict {
		settings.Strict = true
	}
	an, err := analyzer.New(settings)
	if err != nil {
		return analyzer.BatchResult{}, err
	}
	classifier, err := risk.NewClassifier(a.Config.Thresholds())
	if err != nil {
		return analyzer.BatchResult{}, err
	}

	result, err := an.AssessBatch(batch, classifier)
	if err != nil {
		return analyzer.BatchResult{}, err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return result, enc.Encode(result)
	}

	w := a.out()
	st, as := result.Stats, result.Assessment
	fmt.Fprintf(w, "pattern %s seed %d\n", batch.Params.Pattern, batch.Params.Seed)
	fmt.Fprintf(w, "charges %d refunds %d chargebacks %d over %s (expected %.1f charges)\n",
		st.Charges, st.Refunds, st.Chargebacks, st.Span, st.Expected)
	fmt.Fprintf(w, "mean charge %s refund rate %.4f chargeback rate %.4f volume ratio %.2f\n",
		payment.FormatMinor(st.MeanAmount, batch.Params.Currency), st.RefundRate, st.ChargebackRate, st.VolumeRatio)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	factors := as.Signal.Factors()
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%.4f\n", name, factors[name])
	}
	fmt.Fprintf(tw, "volume_spike\t%t\n", as.Signal.VolumeSpike)
	tw.Flush()

	fmt.Fprintf(w, "score %.1f tier %s effort %s\n", as.Score, as.Tier, as.Effort)
	if len(as.Breaches) > 0 {
		fmt.Fprintf(w, "freeze thresholds met: %v\n", as.Breaches)
	}
	fmt.Fprintf(w, "rationale %s\n", as.Rationale)
	for _, f := range result.Report.Findings {
		fmt.Fprintf(w, "finding [%s] %s\n", f.Stage, f.Message)
	}
	return result, nil
}
