package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func TestRedisLedger_Append(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedisLedger(client, "test:calls", time.Minute)
	l.now = fixedNow

	rec := CallRecord{
		ID:         "rec-1",
		Endpoint:   "user_state",
		StartedAt:  fixedNow().Add(-time.Second),
		Duration:   40 * time.Millisecond,
		StatusCode: intPtr(200),
		PID:        42,
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectZAdd("test:calls", &redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: string(payload),
	}).SetVal(1)
	cutoff := fixedNow().Add(-time.Minute).UnixNano()
	mock.ExpectZRemRangeByScore("test:calls", "-inf", fmt.Sprintf("%d", cutoff)).SetVal(0)

	require.NoError(t, l.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_ScanSince(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedisLedger(client, "test:calls", time.Minute)
	l.now = fixedNow

	older := CallRecord{ID: "a", Endpoint: "meta", StartedAt: fixedNow().Add(-40 * time.Second), PID: 1}
	newer := CallRecord{ID: "b", Endpoint: "user_state", StartedAt: fixedNow().Add(-5 * time.Second), PID: 2}
	olderJSON, _ := json.Marshal(older)
	newerJSON, _ := json.Marshal(newer)

	cutoff := fixedNow().Add(-time.Minute).UnixNano()
	mock.ExpectZRangeByScore("test:calls", &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).SetVal([]string{string(newerJSON), string(olderJSON), "not-json"})

	recs, err := l.ScanSince(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Len(t, recs, 2, "malformed members are skipped")
	assert.Equal(t, "a", recs[0].ID, "records come back oldest first")
	assert.Equal(t, "b", recs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_ScanError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedisLedger(client, "", time.Minute)
	l.now = fixedNow

	cutoff := fixedNow().Add(-time.Minute).UnixNano()
	mock.ExpectZRangeByScore(DefaultRedisKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).SetErr(fmt.Errorf("connection refused"))

	_, err := l.ScanSince(context.Background(), time.Minute)
	assert.Error(t, err)
}
