package mirror

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermirror/hypermirror/internal/domain"
)

// MirroredPosition is the controller-side holding for one symbol, as
// tracked by the engine.
type MirroredPosition struct {
	Side domain.Side     `json:"side"`
	Size decimal.Decimal `json:"size"`
}

// ReplicationState is the controller's side-table carried across
// cycles. It has a single writer (the replication loop); the RWMutex
// exists only so read-only surfaces can observe it concurrently.
//
// Invariant: a symbol is present in the mirrored set iff the controller
// currently holds a non-zero position the engine opened for it. The
// watermark is set once at construction and never changes.
type ReplicationState struct {
	watermark time.Time

	mu       sync.RWMutex
	previous *domain.AccountSnapshot
	mirrored map[string]MirroredPosition
}

// NewReplicationState creates state with the given watermark; positions
// opened on the target before it are never mirrored.
func NewReplicationState(watermark time.Time) *ReplicationState {
	return &ReplicationState{
		watermark: watermark,
		mirrored:  make(map[string]MirroredPosition),
	}
}

// Watermark returns the immutable replication start time.
func (s *ReplicationState) Watermark() time.Time { return s.watermark }

// Previous returns the last stored target snapshot, nil before the
// first poll.
func (s *ReplicationState) Previous() *domain.AccountSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// SetPrevious advances the diff baseline. It is called once per cycle
// regardless of submission outcomes so a failed submission is never
// re-diffed against a stale baseline.
func (s *ReplicationState) SetPrevious(snap *domain.AccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = snap
}

// Mirrored returns the tracked holding for symbol.
func (s *ReplicationState) Mirrored(symbol string) (MirroredPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.mirrored[symbol]
	return p, ok
}

// SetMirrored records an engine-opened position.
func (s *ReplicationState) SetMirrored(symbol string, pos MirroredPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored[symbol] = pos
}

// AdjustMirrored applies a size delta (positive grows, negative
// shrinks); the symbol is dropped when the size reaches zero.
func (s *ReplicationState) AdjustMirrored(symbol string, delta decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.mirrored[symbol]
	if !ok {
		return
	}
	p.Size = p.Size.Add(delta)
	if p.Size.LessThanOrEqual(decimal.Zero) {
		delete(s.mirrored, symbol)
		return
	}
	s.mirrored[symbol] = p
}

// RemoveMirrored drops a symbol after a confirmed full close.
func (s *ReplicationState) RemoveMirrored(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mirrored, symbol)
}

// MirroredCount returns the number of mirrored symbols.
func (s *ReplicationState) MirroredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mirrored)
}

// StateView is a read-only copy of the replication state for
// presentation layers.
type StateView struct {
	Watermark      time.Time                   `json:"watermark"`
	LastSnapshotAt time.Time                   `json:"last_snapshot_at"`
	Mirrored       map[string]MirroredPosition `json:"mirrored"`
}

// View snapshots the current state.
func (s *ReplicationState) View() StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := StateView{
		Watermark: s.watermark,
		Mirrored:  make(map[string]MirroredPosition, len(s.mirrored)),
	}
	if s.previous != nil {
		view.LastSnapshotAt = s.previous.Timestamp
	}
	for sym, p := range s.mirrored {
		view.Mirrored[sym] = p
	}
	return view
}
