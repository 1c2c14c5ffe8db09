// Command trader runs the momentum scanner and trader against the live
// Alpaca stream, and carries the data maintenance subcommands.
//
// Usage:
//
//	trader scan  --symbols=AAPL,TSLA
//	trader trade --symbols=AAPL --broker=paper
//	trader fetch --symbols=AAPL --from=2025-03-03 --to=2025-03-04
//	trader export --date=2025-03-04
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"momentum-trader/config"
	"momentum-trader/internal/engine"
	"momentum-trader/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		symbols string
		level   string
	)
	cfg := config.Default()

	root := &cobra.Command{
		Use:          "trader",
		Short:        "Momentum scanner and trader for US equities",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				os.Setenv("CONFIG_FILE", cfgPath)
			}
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if symbols != "" {
				loaded.Symbols = config.ParseSymbols(symbols)
			}
			if level != "" {
				loaded.LogLevel = level
			}
			lvl, err := logger.ParseLevel(loaded.LogLevel)
			if err != nil {
				return err
			}
			logger.Init("trader", lvl)
			*cfg = *loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML configuration file (overrides CONFIG_FILE)")
	root.PersistentFlags().StringVar(&symbols, "symbols", "", "comma-separated symbols (overrides SYMBOLS)")
	root.PersistentFlags().StringVar(&level, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newScanCmd(cfg))
	root.AddCommand(newTradeCmd(cfg))
	root.AddCommand(newFetchCmd(cfg))
	root.AddCommand(newExportCmd(cfg))
	return root
}

func newScanCmd(cfg *config.Config) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Stream quotes and raise alerts when every scanner condition passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd.Context(), cfg, engine.ModeAlerts, stream)
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "serve alerts over WebSocket on GATEWAY_ADDR")
	return cmd
}

func newTradeCmd(cfg *config.Config) *cobra.Command {
	var (
		broker string
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Enter momentum breakouts with bracket orders and manage the exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if broker != "" {
				cfg.Broker = broker
			}
			slog.Info("trade mode", "broker", cfg.Broker)
			return runLive(cmd.Context(), cfg, engine.ModeTrade, stream)
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "", "paper or alpaca (overrides BROKER)")
	cmd.Flags().BoolVar(&stream, "stream", false, "serve alerts over WebSocket on GATEWAY_ADDR")
	return cmd
}
