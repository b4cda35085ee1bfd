package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/shop-orders/internal/payment"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that keep payments and orders consistent.`,
}

var ensureWorkerCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Start the reconciliation sweeper",
	Long:  `Periodically re-run ensure for payment intents that were never materialized, so paid orders appear even when the customer never came back.`,
	Run: func(cmd *cobra.Command, args []string) {
		startEnsureWorker()
	},
}

var (
	sweepWorkers int
	sweepOnce    bool
)

func startEnsureWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	cfg := deps.Config.Reconciliation
	cfg.SweepWorkers = getIntFlag(sweepWorkers, cfg.SweepWorkers)

	sweeper := payment.NewSweeper(deps.Ledger, deps.PaymentService, cfg, deps.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sweepOnce {
		examined, err := sweeper.SweepOnce(ctx)
		if err != nil {
			deps.Logger.Error("sweep failed", "error", err)
			return
		}
		deps.Logger.Info("sweep complete", "examined", examined, "materialized", sweeper.Materialized())
		return
	}

	deps.Logger.Info("ensure worker is running. Press Ctrl+C to stop.",
		"interval", cfg.SweepInterval,
		"workers", cfg.SweepWorkers,
		"batch_size", cfg.SweepBatchSize)

	if err := sweeper.Run(ctx); err != nil {
		deps.Logger.Error("ensure worker stopped with error", "error", err)
		return
	}
	deps.Logger.Info("ensure worker shutdown complete", "materialized", sweeper.Materialized())
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	ensureWorkerCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "Number of concurrent ensure calls (overrides config)")
	ensureWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")

	workerCmd.AddCommand(ensureWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
