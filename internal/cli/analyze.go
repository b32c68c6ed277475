package cli

import (
	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	analyzeIn     string
	analyzeStrict bool
	analyzeJSON   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Assess the freeze risk of a batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			In:     analyzeIn,
			Strict: analyzeStrict,
			JSON:   analyzeJSON,
		})
		return err
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeIn, "in", "", "Batch file written by generate (- for stdin)")
	analyzeCmd.Flags().BoolVar(&analyzeStrict, "strict", false, "Fail on batches without charges")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the result as JSON")
}
