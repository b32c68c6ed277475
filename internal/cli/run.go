package cli

import (
	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	runOnce          bool
	runMetricsListen string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the processor health monitor and metrics listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{
			Once:          runOnce,
			MetricsListen: runMetricsListen,
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Probe every processor once and exit")
	runCmd.Flags().StringVar(&runMetricsListen, "metrics-listen", "", "Override metrics.listen")
}
