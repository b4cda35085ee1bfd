package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/shop-orders/internal/payment"
)

var replayByIntent bool

var replayCmd = &cobra.Command{
	Use:   "replay <provider-order-id>",
	Short: "Re-run reconciliation for one payment",
	Long:  `Re-run reconciliation for a payment, including one previously marked failed. With --intent the argument is the payment intent id.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer deps.Close()

		req := payment.ReplayRequest{ProviderOrderID: args[0]}
		if replayByIntent {
			req = payment.ReplayRequest{IntentID: args[0]}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		result, err := deps.PaymentService.Replay(ctx, req)
		if err != nil {
			return fmt.Errorf("replay %s: %w", args[0], err)
		}
		return printJSON(result)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	replayCmd.Flags().BoolVar(&replayByIntent, "intent", false, "treat the argument as a payment intent id")
	rootCmd.AddCommand(replayCmd)
}
