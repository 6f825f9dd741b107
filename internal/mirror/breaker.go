package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/hyperliquid"
)

// BreakerSink shields the order sink with a circuit breaker so a
// misbehaving exchange endpoint stops consecutive submission attempts
// instead of burning the retry budget every cycle.
type BreakerSink struct {
	sink hyperliquid.OrderSink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps sink with a breaker that opens after five
// consecutive failures and probes again after 30 seconds.
func NewBreakerSink(sink hyperliquid.OrderSink) *BreakerSink {
	settings := gobreaker.Settings{
		Name:        "order_sink",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerSink{sink: sink, cb: gobreaker.NewCircuitBreaker(settings)}
}

// SubmitOrder forwards through the breaker. An open breaker surfaces as
// a transient error so the controller defers to the next cycle rather
// than dropping the event chain permanently.
func (b *BreakerSink) SubmitOrder(ctx context.Context, instr domain.OrderInstruction) (domain.OrderResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.sink.SubmitOrder(ctx, instr)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.OrderResult{}, &hyperliquid.APIError{
				Endpoint:  "order",
				Message:   err.Error(),
				Temporary: true,
			}
		}
		return domain.OrderResult{}, err
	}
	return res.(domain.OrderResult), nil
}
