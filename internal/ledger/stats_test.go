package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeStats(t *testing.T) {
	now := time.Now()
	recs := []CallRecord{
		{Endpoint: "user_state", StartedAt: now.Add(-50 * time.Second), Duration: 100 * time.Millisecond, StatusCode: intPtr(200), PID: 10},
		{Endpoint: "user_state", StartedAt: now.Add(-40 * time.Second), Duration: 300 * time.Millisecond, StatusCode: intPtr(200), PID: 11},
		{Endpoint: "all_mids", StartedAt: now.Add(-30 * time.Second), Duration: 200 * time.Millisecond, StatusCode: intPtr(429), PID: 10},
		{Endpoint: "order", StartedAt: now.Add(-10 * time.Second), Error: "rate limit exceeded", PID: 12},
	}

	stats := ComputeStats(recs, time.Minute)

	assert.Equal(t, 4, stats.TotalCalls)
	assert.Equal(t, 2, stats.SuccessfulCalls)
	assert.Equal(t, 2, stats.FailedCalls)
	assert.Equal(t, 2, stats.RateLimitHits, "429 status and rate-limit keyword both count")
	assert.InDelta(t, 4.0, stats.CallsPerMinute, 0.001)
	assert.Equal(t, 2, stats.ByEndpoint["user_state"])
	assert.Equal(t, 200*time.Millisecond, stats.AvgLatency)
	assert.Equal(t, 300*time.Millisecond, stats.MaxLatency)
	assert.Equal(t, 100*time.Millisecond, stats.MinLatency)
	assert.Equal(t, []int{10, 11, 12}, stats.ActivePIDs)
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil, time.Minute)
	assert.Equal(t, 0, stats.TotalCalls)
	assert.Zero(t, stats.CallsPerMinute)
	assert.Empty(t, stats.ActivePIDs)
}

func TestCallRecord_RateLimited(t *testing.T) {
	cases := []struct {
		name string
		rec  CallRecord
		want bool
	}{
		{"http 429", CallRecord{StatusCode: intPtr(429)}, true},
		{"keyword", CallRecord{Error: "Too Many Requests"}, true},
		{"throttle keyword", CallRecord{Error: "request throttled by venue"}, true},
		{"plain failure", CallRecord{Error: "connection reset"}, false},
		{"success", CallRecord{StatusCode: intPtr(200)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rec.RateLimited())
		})
	}
}
