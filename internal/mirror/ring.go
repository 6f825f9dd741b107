package mirror

import (
	"sync"

	"github.com/hypermirror/hypermirror/internal/domain"
)

// eventRing keeps the most recent change events for read-only surfaces.
type eventRing struct {
	mu  sync.Mutex
	buf []domain.PositionChangeEvent
	max int
}

func newEventRing(max int) *eventRing {
	if max <= 0 {
		max = 100
	}
	return &eventRing{max: max}
}

func (r *eventRing) add(ev domain.PositionChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, ev)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
}

// recent returns up to n events, newest last.
func (r *eventRing) recent(n int) []domain.PositionChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]domain.PositionChangeEvent, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}
