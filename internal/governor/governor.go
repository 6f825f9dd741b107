// Package governor decides whether an API call may proceed, based on
// the aggregate call rate visible in the shared ledger. Because every
// process writes to the same ledger, a 429 received by any of them
// raises the rejection state for all of them.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hypermirror/hypermirror/internal/ledger"
	"github.com/hypermirror/hypermirror/internal/metrics"
)

// DecisionKind is the verdict for a prospective call.
type DecisionKind string

const (
	Allow  DecisionKind = "allow"
	Delay  DecisionKind = "delay"
	Reject DecisionKind = "reject"
)

// Decision is the governor's answer to ShouldCall.
type Decision struct {
	Kind   DecisionKind
	Wait   time.Duration // how long to back off when Kind == Delay
	Reason string        // set when Kind == Reject
}

// Config holds the rate policy thresholds.
type Config struct {
	// SoftPerMinute is the calls/min below which calls pass untouched.
	SoftPerMinute float64
	// HardPerMinute is the calls/min at or above which calls are refused.
	HardPerMinute float64
	// Window is the ledger lookback for the rolling rate.
	Window time.Duration
	// MaxDelay caps the proportional backoff between soft and hard.
	MaxDelay time.Duration
	// Cooldown429 rejects all calls for this long after any process
	// records a rate-limit hit.
	Cooldown429 time.Duration
}

// DefaultConfig matches the observed safe rate for the venue's info API.
func DefaultConfig() Config {
	return Config{
		SoftPerMinute: 15,
		HardPerMinute: 20,
		Window:        time.Minute,
		MaxDelay:      10 * time.Second,
		Cooldown429:   30 * time.Second,
	}
}

// Governor consumes the call ledger and applies the rate policy. A
// local token bucket in front of the ledger math stops a single process
// from bursting between ledger scans.
type Governor struct {
	cfg    Config
	ledger ledger.Ledger
	local  *rate.Limiter
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a governor over the shared ledger.
func New(cfg Config, led ledger.Ledger, log zerolog.Logger) *Governor {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	burst := int(cfg.HardPerMinute)
	if burst < 1 {
		burst = 1
	}
	return &Governor{
		cfg:    cfg,
		ledger: led,
		local:  rate.NewLimiter(rate.Limit(cfg.HardPerMinute/60), burst),
		log:    log.With().Str("component", "governor").Logger(),
		now:    time.Now,
	}
}

// ShouldCall returns the verdict for one prospective call against
// endpoint. Ledger scan failures fail open: observability must not
// stall trading.
func (g *Governor) ShouldCall(ctx context.Context, endpoint string) Decision {
	d := g.decide(ctx, endpoint)
	metrics.RateDecisions.WithLabelValues(string(d.Kind)).Inc()
	return d
}

func (g *Governor) decide(ctx context.Context, endpoint string) Decision {
	// First stage: local bucket.
	res := g.local.Reserve()
	if wait := res.Delay(); wait > 0 {
		res.Cancel()
		return Decision{Kind: Delay, Wait: wait}
	}

	recs, err := g.ledger.ScanSince(ctx, g.cfg.Window)
	if err != nil {
		g.log.Warn().Err(err).Str("endpoint", endpoint).Msg("ledger scan failed, failing open")
		return Decision{Kind: Allow}
	}

	cutoff := g.now().Add(-g.cfg.Cooldown429)
	callsInWindow := 0
	for _, rec := range recs {
		callsInWindow++
		if rec.RateLimited() && rec.StartedAt.After(cutoff) {
			return Decision{
				Kind:   Reject,
				Reason: fmt.Sprintf("rate limit hit on %s at %s, cooling down", rec.Endpoint, rec.StartedAt.Format(time.RFC3339)),
			}
		}
	}

	perMinute := float64(callsInWindow) / g.cfg.Window.Seconds() * 60
	metrics.CallsPerMinute.Set(perMinute)

	switch {
	case perMinute >= g.cfg.HardPerMinute:
		return Decision{
			Kind:   Reject,
			Reason: fmt.Sprintf("aggregate rate %.1f/min at or above hard threshold %.1f/min", perMinute, g.cfg.HardPerMinute),
		}
	case perMinute > g.cfg.SoftPerMinute:
		overshoot := (perMinute - g.cfg.SoftPerMinute) / (g.cfg.HardPerMinute - g.cfg.SoftPerMinute)
		wait := time.Duration(overshoot * float64(g.cfg.MaxDelay))
		return Decision{Kind: Delay, Wait: wait}
	default:
		return Decision{Kind: Allow}
	}
}
