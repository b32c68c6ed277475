package cli

import (
	"time"

	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	exportIn        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportBucket    time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a batch's bucketed activity as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			In:        exportIn,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Bucket:    exportBucket,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportIn, "in", "", "Batch file written by generate (- for stdin)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().DurationVar(&exportBucket, "bucket", 0, "Bucket width (defaults to config)")
}
