// Package mirror runs the replication loop: poll the target account,
// diff against the stored baseline, size each change event, and submit
// the resulting orders to the controller account exactly once per state
// transition.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hypermirror/hypermirror/internal/cache"
	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/hyperliquid"
	"github.com/hypermirror/hypermirror/internal/journal"
	"github.com/hypermirror/hypermirror/internal/metrics"
)

// Journal persists executed copies. A nil journal disables persistence;
// journal failures never affect replication.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Config tunes the replication loop.
type Config struct {
	TargetAddress     string
	ControllerAddress string
	PollInterval      time.Duration
	CycleTimeout      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = c.PollInterval + 15*time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
}

// Controller is the orchestrating state machine. One cycle runs at a
// time; cycles never overlap, so ReplicationState needs no locking
// around the loop's own mutations.
type Controller struct {
	cfg    Config
	cache  *cache.SnapshotCache
	source hyperliquid.AccountSource
	sink   hyperliquid.OrderSink
	sizer  *domain.Sizer
	jrnl   Journal
	log    zerolog.Logger

	state  *ReplicationState
	recent *eventRing
	wake   chan struct{}
	sleep  func(ctx context.Context, d time.Duration) error
}

// New wires a controller. watermark zero means "now": only positions
// the target opens after engine start are copied.
func New(cfg Config, snapCache *cache.SnapshotCache, source hyperliquid.AccountSource, sink hyperliquid.OrderSink, sizer *domain.Sizer, jrnl Journal, watermark time.Time, log zerolog.Logger) *Controller {
	cfg.applyDefaults()
	if watermark.IsZero() {
		watermark = time.Now().UTC()
	}
	return &Controller{
		cfg:    cfg,
		cache:  snapCache,
		source: source,
		sink:   sink,
		sizer:  sizer,
		jrnl:   jrnl,
		log:    log.With().Str("component", "controller").Logger(),
		state:  NewReplicationState(watermark),
		recent: newEventRing(200),
		wake:   make(chan struct{}, 1),
	}
}

// State returns a read-only view for presentation layers.
func (c *Controller) State() StateView { return c.state.View() }

// RecentEvents returns up to n recent change events, newest last.
func (c *Controller) RecentEvents(n int) []domain.PositionChangeEvent {
	return c.recent.recent(n)
}

// Wake nudges the loop to poll immediately, used by the websocket
// stream when it sees target activity.
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run executes the polling loop until ctx is cancelled. Shutdown is
// honored at cycle boundaries only: an in-flight cycle finishes (under
// its own timeout) so no order is abandoned mid-submission.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().
		Str("target", c.cfg.TargetAddress).
		Time("watermark", c.state.Watermark()).
		Dur("poll_interval", c.cfg.PollInterval).
		Msg("replication engine started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.cycle()
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("shutdown signal honored at cycle boundary")
			return nil
		case <-ticker.C:
			c.cycle()
		case <-c.wake:
			c.cycle()
		}
	}
}

// cycle runs one poll/diff/size/submit pass. The cycle context is
// detached from the shutdown context so cancellation cannot interrupt
// an in-flight submission; the timeout bounds a hung collaborator.
func (c *Controller) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CycleTimeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	target, stale, err := c.cache.GetOrFetch(ctx, c.cfg.TargetAddress, func(ctx context.Context) (*domain.AccountSnapshot, error) {
		return c.source.FetchAccountState(ctx, c.cfg.TargetAddress)
	})
	if err != nil {
		c.log.Error().Err(err).Msg("cycle failed: no target snapshot, retrying next interval")
		return
	}
	if stale {
		c.log.Warn().Time("snapshot_at", target.Timestamp).Msg("proceeding with stale target snapshot")
	}

	previous := c.state.Previous()
	events := domain.Diff(previous, target, c.state.Watermark())

	// Advance the baseline before handling events: a submission failure
	// must not cause the same transition to be re-diffed next cycle.
	c.state.SetPrevious(target)

	if len(events) == 0 {
		return
	}
	c.log.Info().Int("events", len(events)).Msg("target position changes detected")

	targetEquity := target.Equity
	controllerEquity := decimal.Zero
	if c.sizer.NeedsEquity() {
		ctrlSnap, ctrlStale, err := c.cache.GetOrFetch(ctx, c.cfg.ControllerAddress, func(ctx context.Context) (*domain.AccountSnapshot, error) {
			return c.source.FetchAccountState(ctx, c.cfg.ControllerAddress)
		})
		if err != nil {
			c.log.Error().Err(err).Msg("cycle failed: controller equity unavailable for sizing")
			return
		}
		if ctrlStale {
			c.log.Warn().Msg("sizing from stale controller equity")
		}
		controllerEquity = ctrlSnap.Equity
	}

	for _, ev := range events {
		c.handleEvent(ctx, ev, previous, target, targetEquity, controllerEquity)
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev domain.PositionChangeEvent, previous, current *domain.AccountSnapshot, targetEquity, controllerEquity decimal.Decimal) {
	c.recent.add(ev)
	evlog := c.log.With().Str("symbol", ev.Symbol).Str("kind", string(ev.Kind)).Logger()

	mirrored, isMirrored := c.state.Mirrored(ev.Symbol)
	if ev.Kind == domain.ChangeOpened && isMirrored {
		evlog.Warn().Msg("already mirrored, skipping duplicate open")
		return
	}
	if ev.Kind != domain.ChangeOpened && !isMirrored {
		// Changes to positions the engine never opened (typically ones
		// predating the watermark) are observed but not copied.
		evlog.Debug().Msg("position not mirrored by engine, ignoring")
		return
	}

	targetPos, ok := current.PositionAt(ev.Symbol)
	if !ok && previous != nil {
		targetPos, _ = previous.PositionAt(ev.Symbol)
	}

	instr, err := c.sizer.SizeFor(ev, targetEquity, controllerEquity, targetPos, mirrored.Size)
	if errors.Is(err, domain.ErrSizingUnderflow) {
		evlog.Info().Msg("scaled size below minimum increment, handled as no-op")
		metrics.OrdersSubmitted.WithLabelValues(string(ev.Kind), "underflow").Inc()
		return
	}
	if err != nil {
		evlog.Error().Err(err).Msg("sizing failed, event dropped")
		return
	}

	res, err := c.submitWithRetry(ctx, *instr)
	switch {
	case err != nil:
		evlog.Error().Err(err).Msg("submission failed after retries, event dropped")
		metrics.OrdersSubmitted.WithLabelValues(string(ev.Kind), "failed").Inc()
		return
	case !res.Accepted:
		evlog.Error().Str("reason", res.Reason).Msg("submission rejected by venue, not retried")
		metrics.OrdersSubmitted.WithLabelValues(string(ev.Kind), "rejected").Inc()
		return
	}

	c.applyFill(ev, *instr)
	metrics.OrdersSubmitted.WithLabelValues(string(ev.Kind), "accepted").Inc()
	metrics.MirroredPositions.Set(float64(c.state.MirroredCount()))
	evlog.Info().Str("size", instr.Size.String()).Str("side", string(instr.Side)).Bool("reduce_only", instr.ReduceOnly).Msg("order mirrored")

	if c.jrnl != nil {
		entry := journal.Entry{
			Symbol:     ev.Symbol,
			Kind:       string(ev.Kind),
			Side:       string(instr.Side),
			Size:       instr.Size,
			ReduceOnly: instr.ReduceOnly,
			Leverage:   instr.Leverage,
			OrderID:    res.OrderID,
			ExecutedAt: time.Now().UTC(),
		}
		if err := c.jrnl.Record(ctx, entry); err != nil {
			evlog.Warn().Err(err).Msg("journal write failed")
		}
	}
}

// applyFill updates the mirrored set after a confirmed submission.
func (c *Controller) applyFill(ev domain.PositionChangeEvent, instr domain.OrderInstruction) {
	switch ev.Kind {
	case domain.ChangeOpened:
		c.state.SetMirrored(ev.Symbol, MirroredPosition{Side: instr.Side, Size: instr.Size})
	case domain.ChangeIncreased:
		c.state.AdjustMirrored(ev.Symbol, instr.Size)
	case domain.ChangeDecreased:
		c.state.AdjustMirrored(ev.Symbol, instr.Size.Neg())
	case domain.ChangeClosed:
		c.state.RemoveMirrored(ev.Symbol)
	}
}

func (c *Controller) submitWithRetry(ctx context.Context, instr domain.OrderInstruction) (domain.OrderResult, error) {
	sleep := c.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}

	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn().Err(lastErr).Int("attempt", attempt).Str("symbol", instr.Symbol).Msg("retrying submission")
			if err := sleep(ctx, backoff); err != nil {
				return domain.OrderResult{}, err
			}
			backoff *= 2
		}

		res, err := c.sink.SubmitOrder(ctx, instr)
		if err == nil {
			return res, nil
		}
		if !hyperliquid.IsTransient(err) {
			return domain.OrderResult{}, err
		}
		lastErr = err
	}
	return domain.OrderResult{}, lastErr
}
