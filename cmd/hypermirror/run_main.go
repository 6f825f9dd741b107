package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hypermirror/hypermirror/internal/cache"
	"github.com/hypermirror/hypermirror/internal/config"
	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/governor"
	"github.com/hypermirror/hypermirror/internal/hyperliquid"
	"github.com/hypermirror/hypermirror/internal/journal"
	"github.com/hypermirror/hypermirror/internal/ledger"
	"github.com/hypermirror/hypermirror/internal/mirror"
	"github.com/hypermirror/hypermirror/internal/monitor"
	"github.com/hypermirror/hypermirror/internal/stream"
)

func runEngine(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	led, err := buildLedger(cfg)
	if err != nil {
		return err
	}

	gov := governor.New(governor.Config{
		SoftPerMinute: float64(cfg.Rate.SoftPerMinute),
		HardPerMinute: float64(cfg.Rate.HardPerMinute),
		Window:        cfg.RateWindow(),
		MaxDelay:      cfg.MaxDelay(),
		Cooldown429:   cfg.Cooldown429(),
	}, led, log.Logger)
	snapCache := cache.New(gov, cfg.CacheTTL(), "user_state", log.Logger)

	httpc := &http.Client{Timeout: 15 * time.Second}
	infoURL := cfg.Execution.InfoURL
	if infoURL == "" {
		infoURL = hyperliquid.MainnetInfoURL
	}
	info := hyperliquid.NewInfoClient(infoURL, httpc)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	universe, err := info.FetchUniverse(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch instrument universe: %w", err)
	}
	log.Info().Int("assets", universe.Len()).Msg("instrument universe loaded")

	instr := hyperliquid.NewInstrumentation(led, log.Logger)
	source := instr.Source(info)

	var fixedRatio *decimal.Decimal
	if cfg.Sizing.Mode == config.SizingFixed {
		r := decimal.NewFromFloat(cfg.Sizing.FixedRatio)
		fixedRatio = &r
	}
	sizer := domain.NewSizer(domain.SizerConfig{
		FixedRatio:       fixedRatio,
		MirrorMarginMode: cfg.Sizing.MirrorMarginMode,
	}, universe)

	var sink hyperliquid.OrderSink
	if dryRun {
		log.Warn().Msg("dry-run: orders will be logged, not submitted")
		sink = dryRunSink{}
	} else {
		if cfg.Execution.Endpoint == "" {
			return fmt.Errorf("execution endpoint required unless --dry-run is set")
		}
		exec := hyperliquid.NewExecutionClient(cfg.Execution.Endpoint, httpc, info, decimal.NewFromFloat(cfg.Execution.Slippage))
		sink = mirror.NewBreakerSink(instr.Sink(exec))
	}

	var jrnl mirror.Journal
	if cfg.Journal.DSN != "" {
		repo, err := journal.Open(cfg.Journal.DSN, 5*time.Second)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer repo.Close()
		jrnl = repo
	}

	ctrl := mirror.New(mirror.Config{
		TargetAddress:     cfg.TargetAddress,
		ControllerAddress: cfg.ControllerAddress,
		PollInterval:      cfg.PollInterval(),
		MaxRetries:        cfg.Engine.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff(),
	}, snapCache, source, sink, sizer, jrnl, cfg.WatermarkTime(), log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(monitor.Config{
			ListenAddr:  cfg.Monitor.ListenAddr,
			StatsWindow: cfg.RateWindow(),
		}, led, ctrl, log.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("monitor server stopped")
			}
		}()
	}

	if cfg.Stream.Enabled {
		sub := stream.New(stream.Config{
			URL:           cfg.Stream.URL,
			TargetAddress: cfg.TargetAddress,
		}, ctrl, log.Logger)
		go func() {
			if err := sub.Run(ctx); err != nil {
				log.Error().Err(err).Msg("stream subscriber stopped")
			}
		}()
	}

	return ctrl.Run(ctx)
}

func buildLedger(cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerFile:
		log.Info().Str("path", cfg.Ledger.Path).Msg("using file call ledger")
		return ledger.NewFileLedger(cfg.Ledger.Path, cfg.LedgerRetention()), nil
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Ledger.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ledger unreachable: %w", err)
		}
		log.Info().Str("addr", cfg.Ledger.RedisAddr).Msg("using redis call ledger")
		return ledger.NewRedisLedger(client, cfg.Ledger.RedisKey, cfg.LedgerRetention()), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// dryRunSink accepts every instruction without touching the exchange.
type dryRunSink struct{}

func (dryRunSink) SubmitOrder(_ context.Context, instr domain.OrderInstruction) (domain.OrderResult, error) {
	log.Info().
		Str("symbol", instr.Symbol).
		Str("side", string(instr.Side)).
		Str("size", instr.Size.String()).
		Bool("reduce_only", instr.ReduceOnly).
		Msg("dry-run order")
	return domain.OrderResult{Accepted: true, OrderID: "dry-run"}, nil
}
