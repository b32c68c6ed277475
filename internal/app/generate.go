package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"payment-router/internal/metrics"
	"payment-router/internal/payment"
	"payment-router/internal/synth"
)

// GenerateOptions configure synthetic batch generation.
type GenerateOptions struct {
	// Pattern is a pattern name or "all".
	Pattern string
	Seed    int64
	Start   time.Time
	Volume  int
	// Rate overrides the refund or chargeback rate of the surge patterns.
	Rate float64
	// Out is a file for a single pattern, a directory for "all", or empty
	// for stdout.
	Out string
	// Ledger selects a balance transaction export (json or csv) instead of
	// the replayable batch format.
	Ledger string
}

// Generate produces one batch per requested pattern.
func (a *App) Generate(ctx context.Context, opts GenerateOptions) ([]synth.Batch, error) {
	switch opts.Ledger {
	case "", "json", "csv":
	default:
		return nil, fmt.Errorf("unknown ledger format %q (want json or csv)", opts.Ledger)
	}

	var patterns []synth.Pattern
	if strings.EqualFold(opts.Pattern, "all") {
		patterns = synth.Patterns()
		if opts.Out == "" {
			return nil, errors.New("--out directory is required when generating all patterns")
		}
	} else {
		p, err := synth.ParsePattern(opts.Pattern)
		if err != nil {
			return nil, err
		}
		patterns = []synth.Pattern{p}
	}

	start := opts.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -a.Config.Generator.Days)
	}

	params := make([]synth.Params, len(patterns))
	for i, p := range patterns {
		params[i] = a.Config.GeneratorParams(p, opts.Seed, start)
		params[i].Volume = opts.Volume
		if opts.Rate > 0 {
			switch p {
			case synth.PatternRefundSurge:
				params[i].RefundRate = opts.Rate
			case synth.PatternChargebackSurge:
				params[i].ChargebackRate = opts.Rate
			}
		}
	}

	batches, err := synth.GenerateAll(ctx, params, a.Config.Generator.Workers)
	if err != nil {
		return nil, err
	}

	for _, b := range batches {
		for _, t := range []payment.TransactionType{payment.TypeCharge, payment.TypeRefund, payment.TypeChargeback} {
			metrics.ObserveSynthetic(string(b.Params.Pattern), string(t), b.Count(t))
		}
		s := b.Summarize()
		a.Logger.Info().
			Str("pattern", string(b.Params.Pattern)).
			Int64("seed", b.Params.Seed).
			Int("charges", s.Charges).
			Int("refunds", s.Refunds).
			Int("chargebacks", s.Chargebacks).
			Str("gross", payment.FormatMinor(s.Gross, b.Params.Currency)).
			Msg("batch generated")

		if err := a.writeBatch(b, opts, len(batches) > 1); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (a *App) writeBatch(b synth.Batch, opts GenerateOptions, many bool) error {
	write := func(w io.Writer) error {
		switch opts.Ledger {
		case "json":
			return synth.WriteLedgerJSON(w, b)
		case "csv":
			return synth.WriteLedgerCSV(w, b)
		}
		return synth.WriteBatch(w, b)
	}

	if opts.Out == "" || opts.Out == "-" {
		return write(a.out())
	}

	path := opts.Out
	if many {
		ext := ".json"
		if opts.Ledger == "csv" {
			ext = ".csv"
		}
		path = filepath.Join(opts.Out, string(b.Params.Pattern)+ext)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := write(file); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	a.Logger.Info().Str("path", path).Msg("batch written")
	return nil
}

func readBatchFile(path string) (synth.Batch, error) {
	if path == "" {
		return synth.Batch{}, errors.New("--in is required")
	}
	if path == "-" {
		return synth.ReadBatch(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return synth.Batch{}, err
	}
	defer file.Close()
	return synth.ReadBatch(file)
}
