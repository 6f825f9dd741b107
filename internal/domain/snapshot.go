package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a perpetuals position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side, used when reducing or closing.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// MarginMode is how collateral is assigned to a position.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// Position is a single open perpetuals position within a snapshot.
// Size is always positive; direction lives in Side.
type Position struct {
	Side             Side            `json:"side"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	Leverage         int             `json:"leverage"`
	MarginMode       MarginMode      `json:"margin_mode"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// AccountSnapshot is the observed state of one account at one instant.
// Snapshots are immutable once captured; a newer snapshot supersedes an
// older one, it never mutates it in place.
type AccountSnapshot struct {
	Address   string              `json:"address"`
	Timestamp time.Time           `json:"timestamp"`
	Positions map[string]Position `json:"positions"`
	Equity    decimal.Decimal     `json:"equity"`
}

// PositionAt returns the position for symbol and whether a non-zero
// position exists.
func (s *AccountSnapshot) PositionAt(symbol string) (Position, bool) {
	if s == nil {
		return Position{}, false
	}
	pos, ok := s.Positions[symbol]
	if !ok || pos.Size.IsZero() {
		return Position{}, false
	}
	return pos, true
}
