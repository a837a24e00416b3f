package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateBalance float64
	simulateSpend   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic balance snapshot through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSpend < 0 {
			return errors.New("--spend cannot be negative")
		}

		balance := decimal.NewFromFloat(simulateBalance)
		spend := decimal.NewFromFloat(simulateSpend)
		return getApp().SimulateAlert(cmd.Context(), balance, spend)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateBalance, "balance", 0, "Simulated balance in USD")
	simulateCmd.Flags().Float64Var(&simulateSpend, "spend", 0, "Simulated spend rate in USD/hr")
}
