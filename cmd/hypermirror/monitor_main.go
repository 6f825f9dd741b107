package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hypermirror/hypermirror/internal/config"
	"github.com/hypermirror/hypermirror/internal/monitor"
)

// runMonitor serves the monitoring API without an engine attached. It
// reads the same ledger the engine processes write to, which is the
// whole point: one process can watch the rate budget all of them share.
func runMonitor(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	listen, _ := cmd.Flags().GetString("listen")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Monitor.ListenAddr
	}

	led, err := buildLedger(cfg)
	if err != nil {
		return err
	}

	srv := monitor.NewServer(monitor.Config{
		ListenAddr:  listen,
		StatsWindow: cfg.RateWindow(),
	}, led, nil, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
