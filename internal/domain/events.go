package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind classifies a target-account position transition.
type ChangeKind string

const (
	ChangeOpened    ChangeKind = "opened"
	ChangeClosed    ChangeKind = "closed"
	ChangeIncreased ChangeKind = "increased"
	ChangeDecreased ChangeKind = "decreased"
)

// PositionChangeEvent describes one observed transition of a target
// position between two snapshots. Events are derived, consumed exactly
// once by sizing, and never persisted beyond the replication run.
type PositionChangeEvent struct {
	Symbol       string          `json:"symbol"`
	Kind         ChangeKind      `json:"kind"`
	PreviousSize decimal.Decimal `json:"previous_size"`
	NewSize      decimal.Decimal `json:"new_size"`
	Side         Side            `json:"side"`
	DetectedAt   time.Time       `json:"detected_at"`
}

// OrderInstruction is the boundary output of sizing: one instruction per
// change event, submitted to the order sink.
type OrderInstruction struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	ReduceOnly bool            `json:"reduce_only"`
	MarginMode MarginMode      `json:"margin_mode"`
	Leverage   int             `json:"leverage"`
}

// OrderResult is the exchange's answer to a submitted instruction.
type OrderResult struct {
	Accepted bool   `json:"accepted"`
	OrderID  string `json:"order_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
