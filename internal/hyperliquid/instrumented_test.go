package hyperliquid

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/ledger"
)

type memLedger struct {
	recs      []ledger.CallRecord
	appendErr error
}

func (m *memLedger) Append(_ context.Context, rec ledger.CallRecord) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLedger) ScanSince(context.Context, time.Duration) ([]ledger.CallRecord, error) {
	return m.recs, nil
}

type stubSource struct {
	snap *domain.AccountSnapshot
	err  error
}

func (s *stubSource) FetchAccountState(context.Context, string) (*domain.AccountSnapshot, error) {
	return s.snap, s.err
}

type stubSink struct {
	res domain.OrderResult
	err error
}

func (s *stubSink) SubmitOrder(context.Context, domain.OrderInstruction) (domain.OrderResult, error) {
	return s.res, s.err
}

func testInstrumentation(led ledger.Ledger) *Instrumentation {
	return NewInstrumentation(led, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestInstrumentedSource_RecordsSuccess(t *testing.T) {
	led := &memLedger{}
	snap := &domain.AccountSnapshot{Address: "0xabc", Timestamp: time.Now()}
	src := testInstrumentation(led).Source(&stubSource{snap: snap})

	got, err := src.FetchAccountState(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Same(t, snap, got)

	require.Len(t, led.recs, 1)
	rec := led.recs[0]
	assert.Equal(t, "user_state", rec.Endpoint)
	require.NotNil(t, rec.StatusCode)
	assert.Equal(t, 200, *rec.StatusCode)
	assert.Empty(t, rec.Error)
}

func TestInstrumentedSource_RecordsFailureAndPropagates(t *testing.T) {
	led := &memLedger{}
	apiErr := &APIError{Endpoint: "user_state", Status: 429, Message: "rate limit", RateLimited: true, Temporary: true}
	src := testInstrumentation(led).Source(&stubSource{err: apiErr})

	_, err := src.FetchAccountState(context.Background(), "0xabc")
	assert.ErrorIs(t, err, error(apiErr))

	require.Len(t, led.recs, 1)
	rec := led.recs[0]
	require.NotNil(t, rec.StatusCode)
	assert.Equal(t, 429, *rec.StatusCode)
	assert.True(t, rec.RateLimited())
}

func TestInstrumentedSink_Records(t *testing.T) {
	led := &memLedger{}
	sink := testInstrumentation(led).Sink(&stubSink{res: domain.OrderResult{Accepted: true, OrderID: "1"}})

	res, err := sink.SubmitOrder(context.Background(), domain.OrderInstruction{
		Symbol: "BTC",
		Side:   domain.SideLong,
		Size:   decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	require.Len(t, led.recs, 1)
	assert.Equal(t, "order", led.recs[0].Endpoint)
}

func TestInstrumentation_LedgerFailureNeverFailsTheCall(t *testing.T) {
	led := &memLedger{appendErr: errors.New("disk full")}
	snap := &domain.AccountSnapshot{Address: "0xabc"}
	src := testInstrumentation(led).Source(&stubSource{snap: snap})

	got, err := src.FetchAccountState(context.Background(), "0xabc")
	require.NoError(t, err, "recording is observability, not correctness")
	assert.Same(t, snap, got)
}
