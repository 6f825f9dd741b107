package hyperliquid

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/ledger"
	"github.com/hypermirror/hypermirror/internal/metrics"
)

// Instrumentation is the single point every boundary call passes
// through: it times the call, classifies the outcome, and appends a
// record to the shared ledger. Ledger failures are logged and swallowed
// because recording must never fail the call it describes.
type Instrumentation struct {
	led ledger.Ledger
	log zerolog.Logger
}

// NewInstrumentation creates the shared boundary instrumentation.
func NewInstrumentation(led ledger.Ledger, log zerolog.Logger) *Instrumentation {
	return &Instrumentation{
		led: led,
		log: log.With().Str("component", "instrumentation").Logger(),
	}
}

func (in *Instrumentation) observe(ctx context.Context, endpoint string, start time.Time, callErr error) {
	rec := ledger.CallRecord{
		Endpoint:   endpoint,
		StartedAt:  start,
		Duration:   time.Since(start),
		StatusCode: StatusOf(callErr),
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	outcome := "ok"
	if callErr != nil {
		outcome = "error"
		if IsRateLimited(callErr) {
			outcome = "rate_limited"
		}
	}
	metrics.APICalls.WithLabelValues(endpoint, outcome).Inc()

	if err := in.led.Append(ctx, rec); err != nil {
		in.log.Warn().Err(err).Str("endpoint", endpoint).Msg("call record dropped")
	}
}

// Source wraps an AccountSource so every fetch is recorded.
func (in *Instrumentation) Source(src AccountSource) AccountSource {
	return &instrumentedSource{src: src, in: in}
}

// Sink wraps an OrderSink so every submission is recorded.
func (in *Instrumentation) Sink(sink OrderSink) OrderSink {
	return &instrumentedSink{sink: sink, in: in}
}

type instrumentedSource struct {
	src AccountSource
	in  *Instrumentation
}

func (s *instrumentedSource) FetchAccountState(ctx context.Context, address string) (*domain.AccountSnapshot, error) {
	start := time.Now()
	snap, err := s.src.FetchAccountState(ctx, address)
	s.in.observe(ctx, "user_state", start, err)
	return snap, err
}

type instrumentedSink struct {
	sink OrderSink
	in   *Instrumentation
}

func (s *instrumentedSink) SubmitOrder(ctx context.Context, instr domain.OrderInstruction) (domain.OrderResult, error) {
	start := time.Now()
	res, err := s.sink.SubmitOrder(ctx, instr)
	s.in.observe(ctx, "order", start, err)
	return res, err
}
