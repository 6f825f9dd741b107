package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError is a classified failure from the exchange boundary. The
// controller branches on Temporary (bounded retry with backoff) and
// RateLimited (defer to the governor's cooldown); everything else is
// terminal for the event that caused it.
type APIError struct {
	Endpoint    string
	Status      int
	Message     string
	RateLimited bool
	Temporary   bool
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// classifyStatus builds an APIError from an HTTP status.
func classifyStatus(endpoint string, status int, body string) *APIError {
	return &APIError{
		Endpoint:    endpoint,
		Status:      status,
		Message:     strings.TrimSpace(body),
		RateLimited: status == 429,
		Temporary:   status == 429 || status >= 500,
	}
}

// IsRateLimited reports whether err represents venue throttling.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RateLimited
	}
	return false
}

// IsTransient reports whether err is worth a bounded retry: network
// trouble, timeouts, 5xx, or throttling.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// StatusOf extracts the HTTP status for ledger recording, or nil when
// the call never produced one.
func StatusOf(err error) *int {
	if err == nil {
		ok := 200
		return &ok
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status > 0 {
		return &apiErr.Status
	}
	return nil
}
