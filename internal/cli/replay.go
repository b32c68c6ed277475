package cli

import (
	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	replayIn      string
	replayWorkers int
	replayDryRun  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Route every charge of a batch and audit the decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Replay(cmd.Context(), app.ReplayOptions{
			In:      replayIn,
			Workers: replayWorkers,
			DryRun:  replayDryRun,
		})
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayIn, "in", "", "Batch file written by generate (- for stdin)")
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 1, "Number of concurrent routing workers")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Run without writing to storage")
}
