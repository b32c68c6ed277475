package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	freezeProcessor string
	freezeAmount    string
	freezeCurrency  string
)

var simulateFreezeCmd = &cobra.Command{
	Use:   "simulate-freeze",
	Short: "Freeze a processor and show how traffic is rerouted",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(freezeAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount value: %w", err)
		}
		return getApp().SimulateFreeze(cmd.Context(), app.SimulateFreezeOptions{
			Processor: freezeProcessor,
			Amount:    amount,
			Currency:  freezeCurrency,
		})
	},
}

func init() {
	simulateFreezeCmd.Flags().StringVar(&freezeProcessor, "processor", "", "Processor id to freeze")
	simulateFreezeCmd.Flags().StringVar(&freezeAmount, "amount", "100", "Probe transaction amount in major units")
	simulateFreezeCmd.Flags().StringVar(&freezeCurrency, "currency", "USD", "ISO 4217 currency code")
}
