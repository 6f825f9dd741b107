package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Diff computes the position-change events between two consecutive
// snapshots of the target account.
//
// Rules:
//   - previous == nil (first poll) emits nothing; the watermark
//     establishes the starting baseline.
//   - a symbol present only in current emits opened, but only when
//     current.Timestamp is at or after the watermark.
//   - a symbol present only in previous emits closed.
//   - same symbol, same side, different size emits increased or
//     decreased per the sign of the delta.
//   - a side flip emits closed then opened, never a single event,
//     because sizing and margin decisions differ between the two.
//
// Output is sorted by symbol (closed before opened within a flip) so
// diffing the same pair of snapshots always yields the same sequence.
func Diff(previous, current *AccountSnapshot, watermark time.Time) []PositionChangeEvent {
	if previous == nil || current == nil {
		return nil
	}

	symbols := make(map[string]struct{}, len(previous.Positions)+len(current.Positions))
	for sym := range previous.Positions {
		symbols[sym] = struct{}{}
	}
	for sym := range current.Positions {
		symbols[sym] = struct{}{}
	}

	ordered := make([]string, 0, len(symbols))
	for sym := range symbols {
		ordered = append(ordered, sym)
	}
	sort.Strings(ordered)

	detectedAt := current.Timestamp
	openEligible := !current.Timestamp.Before(watermark)

	var events []PositionChangeEvent
	for _, sym := range ordered {
		prev, hasPrev := previous.PositionAt(sym)
		curr, hasCurr := current.PositionAt(sym)

		switch {
		case hasPrev && hasCurr && prev.Side != curr.Side:
			events = append(events, PositionChangeEvent{
				Symbol:       sym,
				Kind:         ChangeClosed,
				PreviousSize: prev.Size,
				NewSize:      decimal.Zero,
				Side:         prev.Side,
				DetectedAt:   detectedAt,
			})
			if openEligible {
				events = append(events, PositionChangeEvent{
					Symbol:       sym,
					Kind:         ChangeOpened,
					PreviousSize: decimal.Zero,
					NewSize:      curr.Size,
					Side:         curr.Side,
					DetectedAt:   detectedAt,
				})
			}

		case hasPrev && hasCurr && !prev.Size.Equal(curr.Size):
			kind := ChangeIncreased
			if curr.Size.LessThan(prev.Size) {
				kind = ChangeDecreased
			}
			events = append(events, PositionChangeEvent{
				Symbol:       sym,
				Kind:         kind,
				PreviousSize: prev.Size,
				NewSize:      curr.Size,
				Side:         curr.Side,
				DetectedAt:   detectedAt,
			})

		case hasPrev && !hasCurr:
			events = append(events, PositionChangeEvent{
				Symbol:       sym,
				Kind:         ChangeClosed,
				PreviousSize: prev.Size,
				NewSize:      decimal.Zero,
				Side:         prev.Side,
				DetectedAt:   detectedAt,
			})

		case !hasPrev && hasCurr && openEligible:
			events = append(events, PositionChangeEvent{
				Symbol:       sym,
				Kind:         ChangeOpened,
				PreviousSize: decimal.Zero,
				NewSize:      curr.Size,
				Side:         curr.Side,
				DetectedAt:   detectedAt,
			})
		}
	}

	return events
}
