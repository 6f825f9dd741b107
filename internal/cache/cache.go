// Package cache holds the last-fetched account snapshots with a TTL,
// shielding the rate governor from redundant fetches and falling back
// to stale data when the governor refuses a call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hypermirror/hypermirror/internal/domain"
	"github.com/hypermirror/hypermirror/internal/governor"
	"github.com/hypermirror/hypermirror/internal/metrics"
)

// ErrRateLimited is returned when the governor refuses a call and no
// cached snapshot exists to fall back on.
var ErrRateLimited = errors.New("rate limited and no cached snapshot available")

// DefaultTTL keeps the system under safe call rates while still
// catching new positions within one polling interval.
const DefaultTTL = 60 * time.Second

// FetchFunc retrieves a fresh snapshot for an address. It is expected
// to already be instrumented, so the cache does not record calls itself.
type FetchFunc func(ctx context.Context) (*domain.AccountSnapshot, error)

type entry struct {
	value     *domain.AccountSnapshot
	fetchedAt time.Time
}

// SnapshotCache is the get-or-fetch layer in front of the governor.
type SnapshotCache struct {
	gov      *governor.Governor
	ttl      time.Duration
	endpoint string
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a snapshot cache. ttl <= 0 uses DefaultTTL. endpoint
// names the upstream call for governor accounting.
func New(gov *governor.Governor, ttl time.Duration, endpoint string, log zerolog.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{
		gov:      gov,
		ttl:      ttl,
		endpoint: endpoint,
		log:      log.With().Str("component", "snapshot_cache").Logger(),
		entries:  make(map[string]entry),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetOrFetch returns the snapshot for address, fetching through the
// governor when the cached entry has expired. The second return value
// reports whether the snapshot is stale (served past its TTL because
// the governor refused, or because the fetch itself failed).
func (c *SnapshotCache) GetOrFetch(ctx context.Context, address string, fetch FetchFunc) (*domain.AccountSnapshot, bool, error) {
	c.mu.Lock()
	cached, ok := c.entries[address]
	c.mu.Unlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		metrics.CacheHits.Inc()
		return cached.value, false, nil
	}
	metrics.CacheMisses.Inc()

	decision := c.gov.ShouldCall(ctx, c.endpoint)
	if decision.Kind == governor.Delay {
		c.log.Debug().Dur("wait", decision.Wait).Str("address", address).Msg("governor asked for backoff")
		if err := c.sleep(ctx, decision.Wait); err != nil {
			return nil, false, err
		}
		decision = c.gov.ShouldCall(ctx, c.endpoint)
	}

	if decision.Kind != governor.Allow {
		if ok {
			c.log.Warn().Str("address", address).Str("reason", decision.Reason).Msg("serving stale snapshot under rate pressure")
			return cached.value, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s", ErrRateLimited, decision.Reason)
	}

	snap, err := fetch(ctx)
	if err != nil {
		if ok {
			c.log.Warn().Err(err).Str("address", address).Msg("fetch failed, serving stale snapshot")
			return cached.value, true, nil
		}
		return nil, false, fmt.Errorf("fetch snapshot for %s: %w", address, err)
	}

	c.mu.Lock()
	c.entries[address] = entry{value: snap, fetchedAt: c.now()}
	c.mu.Unlock()
	return snap, false, nil
}

// Peek returns the cached snapshot without fetching, for read-only
// surfaces.
func (c *SnapshotCache) Peek(address string) (*domain.AccountSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[address]
	if !ok {
		return nil, false
	}
	return e.value, true
}
