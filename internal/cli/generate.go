package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	generatePattern string
	generateSeed    int64
	generateStart   string
	generateVolume  int
	generateRate    float64
	generateOut     string
	generateLedger  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic transaction batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.GenerateOptions{
			Pattern: generatePattern,
			Seed:    generateSeed,
			Volume:  generateVolume,
			Rate:    generateRate,
			Out:     generateOut,
			Ledger:  generateLedger,
		}
		if generateStart != "" {
			start, err := time.Parse(time.RFC3339, generateStart)
			if err != nil {
				return fmt.Errorf("invalid --start value: %w", err)
			}
			opts.Start = start.UTC()
		}

		_, err := getApp().Generate(cmd.Context(), opts)
		return err
	},
}

func init() {
	generateCmd.Flags().StringVar(&generatePattern, "pattern", "baseline", "baseline, volume_spike, refund_surge, chargeback_surge or all")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 1, "Random seed; equal seeds produce equal batches")
	generateCmd.Flags().StringVar(&generateStart, "start", "", "Batch start timestamp (RFC3339, defaults to generator.days ago)")
	generateCmd.Flags().IntVar(&generateVolume, "volume", 0, "Exact number of charges (0 uses the pattern default)")
	generateCmd.Flags().Float64Var(&generateRate, "rate", 0, "Refund or chargeback rate for the surge patterns")
	generateCmd.Flags().StringVar(&generateOut, "out", "", "Output file, or directory with --pattern all (default stdout)")
	generateCmd.Flags().StringVar(&generateLedger, "ledger", "", "Write a balance transaction ledger (json or csv) instead of a batch")
}
