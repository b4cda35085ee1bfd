package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var draftCmd = &cobra.Command{
	Use:   "draft <order-id>",
	Short: "Build or refresh the shipping draft of an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer deps.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		draft, err := deps.ShippingService.CreateOrUpdateDraft(ctx, args[0])
		if err != nil {
			return fmt.Errorf("draft %s: %w", args[0], err)
		}
		return printJSON(draft)
	},
}

func init() {
	rootCmd.AddCommand(draftCmd)
}
