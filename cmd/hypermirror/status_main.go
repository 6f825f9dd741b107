package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypermirror/hypermirror/internal/config"
	"github.com/hypermirror/hypermirror/internal/ledger"
)

// runStatus prints a one-shot aggregate of the shared call ledger.
func runStatus(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	window, _ := cmd.Flags().GetDuration("window")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	led, err := buildLedger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recs, err := led.ScanSince(ctx, window)
	if err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}
	stats := ledger.ComputeStats(recs, window)

	fmt.Printf("API calls over last %s\n", window)
	fmt.Printf("  total:           %d (%.1f/min)\n", stats.TotalCalls, stats.CallsPerMinute)
	fmt.Printf("  successful:      %d\n", stats.SuccessfulCalls)
	fmt.Printf("  failed:          %d\n", stats.FailedCalls)
	fmt.Printf("  rate limit hits: %d\n", stats.RateLimitHits)
	if stats.TotalCalls > 0 {
		fmt.Printf("  latency avg/max: %s / %s\n", stats.AvgLatency.Round(time.Millisecond), stats.MaxLatency.Round(time.Millisecond))
	}
	if len(stats.ByEndpoint) > 0 {
		fmt.Println("  by endpoint:")
		for endpoint, n := range stats.ByEndpoint {
			fmt.Printf("    %-12s %d\n", endpoint, n)
		}
	}
	if len(stats.ActivePIDs) > 0 {
		fmt.Printf("  active processes: %v\n", stats.ActivePIDs)
	}
	if stats.RateLimitHits > 0 {
		fmt.Printf("\nWARNING: upstream 429s observed; all processes back off for %s\n", cfg.Cooldown429())
	}
	return nil
}
