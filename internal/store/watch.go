package store

import "sync"

// hub fans store change events out to subscribers. Delivery is synchronous
// on the writer's goroutine; subscribers hand off to their own channels.
type hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(Event))}
}

func (h *hub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *hub) broadcast(ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
