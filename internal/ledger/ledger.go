// Package ledger records API call activity in a time-windowed,
// append-only log that independent processes can read and write
// concurrently. The ledger is observability, not correctness: a failed
// append must never block or fail the API call it describes.
package ledger

import (
	"context"
	"strings"
	"time"
)

// DefaultRetention is how long call records are kept before eviction.
const DefaultRetention = 5 * time.Minute

// CallRecord is one API call as observed at the collaborator boundary.
type CallRecord struct {
	ID         string        `json:"id,omitempty"`
	Endpoint   string        `json:"endpoint"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	StatusCode *int          `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	PID        int           `json:"pid"`
}

// Succeeded reports whether the call completed with a 2xx status.
func (r CallRecord) Succeeded() bool {
	return r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode < 300
}

// RateLimited reports whether the record looks like a rate-limit hit:
// an HTTP 429 or an error message carrying a known throttling phrase.
func (r CallRecord) RateLimited() bool {
	if r.StatusCode != nil && *r.StatusCode == 429 {
		return true
	}
	if r.Error == "" {
		return false
	}
	msg := strings.ToLower(r.Error)
	for _, kw := range rateLimitKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

var rateLimitKeywords = []string{
	"rate limit",
	"too many requests",
	"throttle",
	"quota exceeded",
	"limit exceeded",
}

// Ledger is the append/scan contract shared by all backends. ScanSince
// returns records no older than window, oldest first. Readers tolerate
// missing very recent records but never see corrupted ones.
type Ledger interface {
	Append(ctx context.Context, rec CallRecord) error
	ScanSince(ctx context.Context, window time.Duration) ([]CallRecord, error)
}
