package subscription

import (
	"sync"

	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// eventRing is a fixed-capacity circular buffer of the most recent events,
// backing getRecentEvents/getEventHistory.
type eventRing struct {
	mu   sync.RWMutex
	buf  []types.ChangeEvent
	next int
	full bool
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]types.ChangeEvent, capacity)}
}

func (r *eventRing) push(e types.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// recent returns up to n most recent events, oldest first.
func (r *eventRing) recent(n int) []types.ChangeEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ordered []types.ChangeEvent
	if r.full {
		ordered = append(ordered, r.buf[r.next:]...)
		ordered = append(ordered, r.buf[:r.next]...)
	} else {
		ordered = append(ordered, r.buf[:r.next]...)
	}
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	out := make([]types.ChangeEvent, len(ordered))
	copy(out, ordered)
	return out
}

// since returns every buffered event with At >= fromMillis, oldest first,
// backing getEventHistory's time-ranged query.
func (r *eventRing) since(fromMillis types.Timestamp) []types.ChangeEvent {
	all := r.recent(0)
	var out []types.ChangeEvent
	for _, e := range all {
		if e.At >= fromMillis {
			out = append(out, e)
		}
	}
	return out
}
