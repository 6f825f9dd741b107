package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrSizingUnderflow is returned when a scaled size rounds down to zero
// at the instrument's minimum increment. The event is acknowledged but
// produces no order; callers must still mark it handled so it is not
// retried.
var ErrSizingUnderflow = errors.New("scaled size rounds to zero")

// InstrumentMeta resolves per-instrument sizing constraints. The
// exchange boundary implements this from the venue's universe metadata.
type InstrumentMeta interface {
	// SizeDecimals returns the number of decimal places of the
	// instrument's minimum order increment.
	SizeDecimals(symbol string) int32
}

// SizerConfig controls how target sizes scale onto the controller.
type SizerConfig struct {
	// FixedRatio overrides equity-based scaling when non-nil.
	FixedRatio *decimal.Decimal
	// MirrorMarginMode mirrors the target's margin mode instead of
	// forcing isolated. Isolated is the default safety policy.
	MirrorMarginMode bool
}

// Sizer converts position-change events into controller-side order
// instructions.
type Sizer struct {
	cfg  SizerConfig
	meta InstrumentMeta
}

// NewSizer creates a sizer using the given instrument metadata.
func NewSizer(cfg SizerConfig, meta InstrumentMeta) *Sizer {
	return &Sizer{cfg: cfg, meta: meta}
}

// NeedsEquity reports whether the sizer derives its ratio from account
// equity rather than a fixed configuration value.
func (s *Sizer) NeedsEquity() bool {
	return s.cfg.FixedRatio == nil
}

// Ratio returns the scale factor applied to target sizes: the fixed
// configured ratio when set, otherwise controller equity over target
// equity.
func (s *Sizer) Ratio(targetEquity, controllerEquity decimal.Decimal) (decimal.Decimal, error) {
	if s.cfg.FixedRatio != nil {
		return *s.cfg.FixedRatio, nil
	}
	if targetEquity.IsZero() {
		return decimal.Zero, fmt.Errorf("target equity is zero, cannot derive ratio")
	}
	return controllerEquity.Div(targetEquity), nil
}

// SizeFor turns one change event into at most one order instruction.
//
// opened: target size scaled by ratio, rounded down to the instrument
// increment; rounds-to-zero yields (nil, ErrSizingUnderflow).
//
// increased/decreased: the scaled delta only, never a re-derivation
// from absolute size, so rounding drift never compounds.
//
// closed: a reduce-only order for exactly mirroredSize, guaranteeing
// full closure regardless of accumulated drift.
func (s *Sizer) SizeFor(event PositionChangeEvent, targetEquity, controllerEquity decimal.Decimal, targetPos Position, mirroredSize decimal.Decimal) (*OrderInstruction, error) {
	if event.Kind == ChangeClosed {
		if mirroredSize.IsZero() {
			return nil, ErrSizingUnderflow
		}
		return &OrderInstruction{
			Symbol:     event.Symbol,
			Side:       event.Side.Opposite(),
			Size:       mirroredSize,
			ReduceOnly: true,
			MarginMode: s.marginMode(targetPos),
			Leverage:   targetPos.Leverage,
		}, nil
	}

	ratio, err := s.Ratio(targetEquity, controllerEquity)
	if err != nil {
		return nil, err
	}
	decimals := s.meta.SizeDecimals(event.Symbol)

	switch event.Kind {
	case ChangeOpened:
		size := event.NewSize.Mul(ratio).RoundFloor(decimals)
		if size.IsZero() {
			return nil, ErrSizingUnderflow
		}
		return &OrderInstruction{
			Symbol:     event.Symbol,
			Side:       event.Side,
			Size:       size,
			MarginMode: s.marginMode(targetPos),
			Leverage:   targetPos.Leverage,
		}, nil

	case ChangeIncreased:
		delta := event.NewSize.Sub(event.PreviousSize).Mul(ratio).RoundFloor(decimals)
		if delta.IsZero() {
			return nil, ErrSizingUnderflow
		}
		return &OrderInstruction{
			Symbol:     event.Symbol,
			Side:       event.Side,
			Size:       delta,
			MarginMode: s.marginMode(targetPos),
			Leverage:   targetPos.Leverage,
		}, nil

	case ChangeDecreased:
		delta := event.PreviousSize.Sub(event.NewSize).Mul(ratio).RoundFloor(decimals)
		if delta.IsZero() {
			return nil, ErrSizingUnderflow
		}
		// Never reduce past what the engine actually holds.
		if delta.GreaterThan(mirroredSize) {
			delta = mirroredSize
		}
		if delta.IsZero() {
			return nil, ErrSizingUnderflow
		}
		return &OrderInstruction{
			Symbol:     event.Symbol,
			Side:       event.Side.Opposite(),
			Size:       delta,
			ReduceOnly: true,
			MarginMode: s.marginMode(targetPos),
			Leverage:   targetPos.Leverage,
		}, nil

	default:
		return nil, fmt.Errorf("unknown change kind %q", event.Kind)
	}
}

func (s *Sizer) marginMode(targetPos Position) MarginMode {
	if s.cfg.MirrorMarginMode && targetPos.MarginMode != "" {
		return targetPos.MarginMode
	}
	return MarginIsolated
}
