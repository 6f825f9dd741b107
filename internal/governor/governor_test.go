package governor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/hypermirror/hypermirror/internal/ledger"
)

type memLedger struct {
	recs    []ledger.CallRecord
	scanErr error
}

func (m *memLedger) Append(_ context.Context, rec ledger.CallRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLedger) ScanSince(_ context.Context, window time.Duration) ([]ledger.CallRecord, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	cutoff := time.Now().Add(-window)
	var out []ledger.CallRecord
	for _, rec := range m.recs {
		if !rec.StartedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func fill(led *memLedger, n int, age time.Duration, pid int) {
	status := 200
	for i := 0; i < n; i++ {
		led.recs = append(led.recs, ledger.CallRecord{
			Endpoint:   "user_state",
			StartedAt:  time.Now().Add(-age),
			StatusCode: &status,
			PID:        pid,
		})
	}
}

func newGovernor(led ledger.Ledger) *Governor {
	return New(DefaultConfig(), led, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestGovernor_AllowBelowSoftThreshold(t *testing.T) {
	led := &memLedger{}
	fill(led, 5, 10*time.Second, 100)

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Allow, d.Kind)
}

func TestGovernor_DelayBetweenThresholds(t *testing.T) {
	led := &memLedger{}
	fill(led, 17, 10*time.Second, 100)

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Delay, d.Kind)
	assert.Greater(t, d.Wait, time.Duration(0))
	assert.LessOrEqual(t, d.Wait, 10*time.Second)
}

func TestGovernor_DelayProportionalToOvershoot(t *testing.T) {
	mild := &memLedger{}
	fill(mild, 16, 10*time.Second, 100)
	heavy := &memLedger{}
	fill(heavy, 19, 10*time.Second, 100)

	dMild := newGovernor(mild).ShouldCall(context.Background(), "user_state")
	dHeavy := newGovernor(heavy).ShouldCall(context.Background(), "user_state")
	assert.Greater(t, dHeavy.Wait, dMild.Wait)
}

func TestGovernor_RejectAtHardThreshold(t *testing.T) {
	led := &memLedger{}
	fill(led, 50, 10*time.Second, 100)

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Reject, d.Kind)
	assert.NotEmpty(t, d.Reason)
}

func TestGovernor_HardCapAcrossProcesses(t *testing.T) {
	// Records from three distinct writer processes share the ledger;
	// the governor must see the aggregate, not per-process, rate.
	led := &memLedger{}
	fill(led, 8, 10*time.Second, 100)
	fill(led, 8, 10*time.Second, 200)
	fill(led, 8, 10*time.Second, 300)

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Reject, d.Kind)
}

func TestGovernor_RecoversWhenWindowRollsOff(t *testing.T) {
	led := &memLedger{}
	fill(led, 50, 2*time.Minute, 100) // all outside the 60s window

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Allow, d.Kind)
}

func TestGovernor_RejectAfter429Anywhere(t *testing.T) {
	led := &memLedger{}
	status := 429
	// The 429 was observed by another process.
	led.recs = append(led.recs, ledger.CallRecord{
		Endpoint:   "all_mids",
		StartedAt:  time.Now().Add(-5 * time.Second),
		StatusCode: &status,
		PID:        999,
	})

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Reject, d.Kind)
	assert.Contains(t, d.Reason, "cooling down")
}

func TestGovernor_429CooldownExpires(t *testing.T) {
	led := &memLedger{}
	status := 429
	led.recs = append(led.recs, ledger.CallRecord{
		Endpoint:   "user_state",
		StartedAt:  time.Now().Add(-45 * time.Second), // past the 30s cooldown
		StatusCode: &status,
		PID:        100,
	})

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Allow, d.Kind)
}

func TestGovernor_FailsOpenOnScanError(t *testing.T) {
	led := &memLedger{scanErr: errors.New("storage unavailable")}

	d := newGovernor(led).ShouldCall(context.Background(), "user_state")
	assert.Equal(t, Allow, d.Kind, "observability failures must not stall trading")
}
