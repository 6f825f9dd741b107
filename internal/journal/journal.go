// Package journal persists executed copies to Postgres so a session's
// replication history survives restarts. Persistence is best-effort:
// the engine runs fine with a nil journal.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Entry is one executed copy or close.
type Entry struct {
	ID         int64           `db:"id" json:"id"`
	Symbol     string          `db:"symbol" json:"symbol"`
	Kind       string          `db:"kind" json:"kind"`
	Side       string          `db:"side" json:"side"`
	Size       decimal.Decimal `db:"size" json:"size"`
	ReduceOnly bool            `db:"reduce_only" json:"reduce_only"`
	Leverage   int             `db:"leverage" json:"leverage"`
	OrderID    string          `db:"order_id" json:"order_id"`
	ExecutedAt time.Time       `db:"executed_at" json:"executed_at"`
}

// Repo is a Postgres-backed journal.
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string, timeout time.Duration) (*Repo, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect journal db: %w", err)
	}
	repo := NewRepo(db, timeout)
	if err := repo.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewRepo wraps an existing connection, used by tests.
func NewRepo(db *sqlx.DB, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repo{db: db, timeout: timeout}
}

func (r *Repo) ensureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS copy_journal (
			id          BIGSERIAL PRIMARY KEY,
			symbol      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			side        TEXT NOT NULL,
			size        NUMERIC NOT NULL,
			reduce_only BOOLEAN NOT NULL DEFAULT FALSE,
			leverage    INT NOT NULL DEFAULT 0,
			order_id    TEXT NOT NULL DEFAULT '',
			executed_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Record inserts one executed copy.
func (r *Repo) Record(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO copy_journal (symbol, kind, side, size, reduce_only, leverage, order_id, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		entry.Symbol, entry.Kind, entry.Side, entry.Size.String(),
		entry.ReduceOnly, entry.Leverage, entry.OrderID, entry.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (r *Repo) Recent(ctx context.Context, n int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if n <= 0 {
		n = 50
	}
	var entries []Entry
	query := `
		SELECT id, symbol, kind, side, size, reduce_only, leverage, order_id, executed_at
		FROM copy_journal
		ORDER BY executed_at DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &entries, query, n); err != nil {
		return nil, fmt.Errorf("select journal entries: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (r *Repo) Close() error { return r.db.Close() }
