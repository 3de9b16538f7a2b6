package manager

import "sync"

// progressHub fans InitProgress snapshots out to subscribers with
// latest-value semantics: each subscriber channel holds at most one pending
// snapshot, and a new publish replaces an unread one. Subscribe replays the
// current value first, so late subscribers never miss the present state.
type progressHub struct {
	mu   sync.Mutex
	cur  InitProgress
	subs map[int]chan InitProgress
	next int
}

func newProgressHub(initial InitProgress) *progressHub {
	return &progressHub{cur: initial, subs: make(map[int]chan InitProgress)}
}

// Publish replaces the current snapshot and notifies subscribers without
// blocking on slow consumers.
func (h *progressHub) Publish(p InitProgress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = p
	for _, ch := range h.subs {
		select {
		case ch <- p:
		default:
			// Drop the stale pending value and replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// Current returns the latest snapshot.
func (h *progressHub) Current() InitProgress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// Subscribe registers an observer. The returned channel immediately yields
// the current snapshot, then subsequent updates. Call cancel to release.
func (h *progressHub) Subscribe() (<-chan InitProgress, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan InitProgress, 1)
	ch <- h.cur
	id := h.next
	h.next++
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
	return ch, cancel
}
