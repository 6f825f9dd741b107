package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "hypermirror"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Hyperliquid position replication engine",
		Version: version,
		Long: `hypermirror watches a target Hyperliquid account and replicates its
perpetual position changes onto a controller account, scaled to the
controller's equity. API usage is coordinated through a shared call
ledger so several processes can stay under the venue's rate limits
together.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the replication engine",
		Long:  "Polls the target account, diffs position state, and mirrors changes onto the controller account until interrupted",
		RunE:  runEngine,
	}
	runCmd.Flags().String("config", "config.yaml", "Path to YAML configuration")
	runCmd.Flags().Bool("dry-run", false, "Detect and log position changes without submitting orders")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the monitoring API against the shared call ledger",
		Long:  "Starts the read-only HTTP server detached from any engine; useful for watching rate budget consumption across processes",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().String("config", "config.yaml", "Path to YAML configuration")
	monitorCmd.Flags().String("listen", "", "Listen address override (host:port)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print call ledger statistics and exit",
		Long:  "One-shot aggregate view of recent API usage across all processes sharing the ledger",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("config", "config.yaml", "Path to YAML configuration")
	statusCmd.Flags().Duration("window", time.Minute, "Aggregation window")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
