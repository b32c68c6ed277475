package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment-router/internal/app"
)

var (
	routeAmount      string
	routeCurrency    string
	routeDescription string
	routeTier        string
	routeFreeze      []string
	routeJSON        bool
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route one transaction through the simulated processors",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(routeAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount value: %w", err)
		}

		opts := app.RouteOptions{
			Amount:      amount,
			Currency:    routeCurrency,
			Description: routeDescription,
			Tier:        routeTier,
			Freeze:      routeFreeze,
			JSON:        routeJSON,
		}
		_, err = getApp().Route(cmd.Context(), opts)
		return err
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeAmount, "amount", "", "Amount in major units, e.g. 125.50")
	routeCmd.Flags().StringVar(&routeCurrency, "currency", "USD", "ISO 4217 currency code")
	routeCmd.Flags().StringVar(&routeDescription, "description", "", "Transaction description")
	routeCmd.Flags().StringVar(&routeTier, "tier", "", "Override the classified tier (MINIMAL, MEDIUM, HIGH)")
	routeCmd.Flags().StringSliceVar(&routeFreeze, "freeze", nil, "Processor ids to freeze before routing")
	routeCmd.Flags().BoolVar(&routeJSON, "json", false, "Print the outcome as JSON")
	_ = routeCmd.MarkFlagRequired("amount")
}
