package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultRedisKey is the sorted set holding call records.
const DefaultRedisKey = "hypermirror:api_calls"

// RedisLedger keeps call records in a sorted set scored by start time.
// A shared Redis instance gives multiple hosts the same aggregate view
// the file ledger gives multiple processes on one host.
type RedisLedger struct {
	client    redis.UniversalClient
	key       string
	retention time.Duration
	now       func() time.Time
}

// NewRedisLedger creates a Redis-backed ledger. An empty key uses
// DefaultRedisKey; retention <= 0 uses DefaultRetention.
func NewRedisLedger(client redis.UniversalClient, key string, retention time.Duration) *RedisLedger {
	if key == "" {
		key = DefaultRedisKey
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisLedger{
		client:    client,
		key:       key,
		retention: retention,
		now:       time.Now,
	}
}

// Append ZADDs the record scored by its start time and evicts members
// older than the retention window.
func (l *RedisLedger) Append(ctx context.Context, rec CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PID == 0 {
		rec.PID = os.Getpid()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	score := float64(rec.StartedAt.UnixNano())
	if err := l.client.ZAdd(ctx, l.key, &redis.Z{Score: score, Member: string(payload)}).Err(); err != nil {
		return fmt.Errorf("append call record: %w", err)
	}

	cutoff := l.now().Add(-l.retention).UnixNano()
	if err := l.client.ZRemRangeByScore(ctx, l.key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return fmt.Errorf("evict old call records: %w", err)
	}
	return nil
}

// ScanSince returns records newer than the window, oldest first.
func (l *RedisLedger) ScanSince(ctx context.Context, window time.Duration) ([]CallRecord, error) {
	cutoff := l.now().Add(-window).UnixNano()

	members, err := l.client.ZRangeByScore(ctx, l.key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan call records: %w", err)
	}

	recs := make([]CallRecord, 0, len(members))
	for _, m := range members {
		var rec CallRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	return recs, nil
}
