package ledger

import (
	"sort"
	"time"
)

// Stats summarizes a window of call records, the same aggregate view
// the monitor dashboard renders.
type Stats struct {
	Window          time.Duration  `json:"window"`
	TotalCalls      int            `json:"total_calls"`
	SuccessfulCalls int            `json:"successful_calls"`
	FailedCalls     int            `json:"failed_calls"`
	RateLimitHits   int            `json:"rate_limit_hits"`
	CallsPerMinute  float64        `json:"calls_per_minute"`
	AvgLatency      time.Duration  `json:"avg_latency"`
	MaxLatency      time.Duration  `json:"max_latency"`
	MinLatency      time.Duration  `json:"min_latency"`
	ByEndpoint      map[string]int `json:"by_endpoint"`
	ActivePIDs      []int          `json:"active_pids"`
}

// ComputeStats aggregates records scanned over the given window.
func ComputeStats(recs []CallRecord, window time.Duration) Stats {
	stats := Stats{
		Window:     window,
		ByEndpoint: make(map[string]int),
	}
	if window <= 0 {
		window = time.Minute
		stats.Window = window
	}

	pids := make(map[int]struct{})
	var totalLatency time.Duration
	var timed int

	for _, rec := range recs {
		stats.TotalCalls++
		stats.ByEndpoint[rec.Endpoint]++
		pids[rec.PID] = struct{}{}

		if rec.Succeeded() {
			stats.SuccessfulCalls++
		} else {
			stats.FailedCalls++
		}
		if rec.RateLimited() {
			stats.RateLimitHits++
		}
		if rec.Duration > 0 {
			timed++
			totalLatency += rec.Duration
			if rec.Duration > stats.MaxLatency {
				stats.MaxLatency = rec.Duration
			}
			if stats.MinLatency == 0 || rec.Duration < stats.MinLatency {
				stats.MinLatency = rec.Duration
			}
		}
	}

	if timed > 0 {
		stats.AvgLatency = totalLatency / time.Duration(timed)
	}
	stats.CallsPerMinute = float64(stats.TotalCalls) / window.Seconds() * 60

	for pid := range pids {
		stats.ActivePIDs = append(stats.ActivePIDs, pid)
	}
	sort.Ints(stats.ActivePIDs)
	return stats
}
