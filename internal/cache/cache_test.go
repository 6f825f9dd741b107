package cache

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
	"github.com/hypermirror/hypermirror/internal/governor"
	"github.com/hypermirror/hypermirror/internal/ledger"
)

type memLedger struct {
	recs []ledger.CallRecord
}

func (m *memLedger) Append(_ context.Context, rec ledger.CallRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLedger) ScanSince(_ context.Context, window time.Duration) ([]ledger.CallRecord, error) {
	cutoff := time.Now().Add(-window)
	var out []ledger.CallRecord
	for _, rec := range m.recs {
		if !rec.StartedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func saturate(led *memLedger, n int) {
	status := 200
	for i := 0; i < n; i++ {
		led.recs = append(led.recs, ledger.CallRecord{
			Endpoint:   "user_state",
			StartedAt:  time.Now().Add(-10 * time.Second),
			StatusCode: &status,
			PID:        100,
		})
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func newCache(led ledger.Ledger, ttl time.Duration) *SnapshotCache {
	gov := governor.New(governor.DefaultConfig(), led, testLogger())
	return New(gov, ttl, "user_state", testLogger())
}

func snapshotFor(address string) *domain.AccountSnapshot {
	return &domain.AccountSnapshot{
		Address:   address,
		Timestamp: time.Now(),
		Equity:    decimal.NewFromInt(1000),
	}
}

func countingFetch(snap *domain.AccountSnapshot, err error, calls *int) FetchFunc {
	return func(context.Context) (*domain.AccountSnapshot, error) {
		*calls++
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
}

func TestCache_FreshEntrySkipsFetch(t *testing.T) {
	c := newCache(&memLedger{}, time.Minute)
	ctx := context.Background()
	snap := snapshotFor("0xabc")

	calls := 0
	got, stale, err := c.GetOrFetch(ctx, "0xabc", countingFetch(snap, nil, &calls))
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 1, calls)
	assert.Same(t, snap, got)

	got, stale, err = c.GetOrFetch(ctx, "0xabc", countingFetch(nil, errors.New("must not be called"), &calls))
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 1, calls, "fresh entry must not trigger a second fetch")
	assert.Same(t, snap, got)
}

func TestCache_ExpiredEntryRefetches(t *testing.T) {
	c := newCache(&memLedger{}, 10*time.Millisecond)
	ctx := context.Background()

	calls := 0
	_, _, err := c.GetOrFetch(ctx, "0xabc", countingFetch(snapshotFor("0xabc"), nil, &calls))
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	fresh := snapshotFor("0xabc")
	got, stale, err := c.GetOrFetch(ctx, "0xabc", countingFetch(fresh, nil, &calls))
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 2, calls)
	assert.Same(t, fresh, got)
}

func TestCache_RejectFallsBackToStale(t *testing.T) {
	led := &memLedger{}
	c := newCache(led, time.Nanosecond)
	ctx := context.Background()

	calls := 0
	snap := snapshotFor("0xabc")
	_, _, err := c.GetOrFetch(ctx, "0xabc", countingFetch(snap, nil, &calls))
	require.NoError(t, err)

	saturate(led, 50) // aggregate rate now far past the hard threshold

	got, stale, err := c.GetOrFetch(ctx, "0xabc", countingFetch(nil, errors.New("must not be called"), &calls))
	require.NoError(t, err)
	assert.True(t, stale, "stale data is served rather than blocking indefinitely")
	assert.Same(t, snap, got)
	assert.Equal(t, 1, calls)
}

func TestCache_RejectWithoutCachedValueFails(t *testing.T) {
	led := &memLedger{}
	saturate(led, 50)
	c := newCache(led, time.Minute)

	calls := 0
	_, _, err := c.GetOrFetch(context.Background(), "0xabc", countingFetch(nil, nil, &calls))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Zero(t, calls)
}

func TestCache_DelaySleepsThenRetries(t *testing.T) {
	led := &memLedger{}
	saturate(led, 17) // between soft and hard thresholds
	c := newCache(led, time.Minute)

	var slept time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		// Simulate the window rolling off during the backoff.
		led.recs = nil
		return nil
	}

	calls := 0
	snap := snapshotFor("0xabc")
	got, stale, err := c.GetOrFetch(context.Background(), "0xabc", countingFetch(snap, nil, &calls))
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Greater(t, slept, time.Duration(0))
	assert.Equal(t, 1, calls)
	assert.Same(t, snap, got)
}

func TestCache_FetchErrorServesStale(t *testing.T) {
	c := newCache(&memLedger{}, time.Nanosecond)
	ctx := context.Background()

	calls := 0
	snap := snapshotFor("0xabc")
	_, _, err := c.GetOrFetch(ctx, "0xabc", countingFetch(snap, nil, &calls))
	require.NoError(t, err)

	got, stale, err := c.GetOrFetch(ctx, "0xabc", countingFetch(nil, errors.New("venue down"), &calls))
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Same(t, snap, got)
}

func TestCache_FetchErrorWithoutStaleFails(t *testing.T) {
	c := newCache(&memLedger{}, time.Minute)

	calls := 0
	_, _, err := c.GetOrFetch(context.Background(), "0xabc", countingFetch(nil, errors.New("venue down"), &calls))
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCache_Peek(t *testing.T) {
	c := newCache(&memLedger{}, time.Minute)

	_, ok := c.Peek("0xabc")
	assert.False(t, ok)

	calls := 0
	snap := snapshotFor("0xabc")
	_, _, err := c.GetOrFetch(context.Background(), "0xabc", countingFetch(snap, nil, &calls))
	require.NoError(t, err)

	got, ok := c.Peek("0xabc")
	assert.True(t, ok)
	assert.Same(t, snap, got)
}
