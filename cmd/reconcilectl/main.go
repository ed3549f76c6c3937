// Command reconcilectl runs the background reconciliation jobs on demand and
// prints the lifecycle transition tables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"order-lifecycle-service/internal/app"
	"order-lifecycle-service/internal/config"
	"order-lifecycle-service/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "reconcilectl",
		Short:        "Operator tool for the order lifecycle service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("notify", true, "Publish lifecycle events to RabbitMQ")

	rootCmd.AddCommand(retryShipmentsCmd())
	rootCmd.AddCommand(runRefundsCmd())
	rootCmd.AddCommand(transitionsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func retryShipmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-shipments",
		Short: "Retry shipment creation for placeholders whose backoff has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.ShipmentRetry.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d recovered=%d failed=%d\n",
					res.Attempted, res.Recovered, res.Failed)
				return nil
			})
		},
	}
	return cmd
}

func runRefundsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-refunds",
		Short: "Execute approved refund requests whose grace period has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				done, err := a.RefundRunner.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refunded=%d\n", done)
				return nil
			})
		},
	}
}

// withApp loads configuration, builds the service graph and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("close resources", zap.Error(err))
		}
	}()

	notify, _ := cmd.Flags().GetBool("notify")
	if notify {
		if _, err := a.ConnectRabbit(); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}
