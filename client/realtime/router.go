package realtime

import (
	"sync"

	"carexpert/client/domain"
)

type Handler func(domain.ChatEvent)

// Router fans inbound events out to subscribers in arrival order. It does no
// filtering of its own; deciding whether an event is relevant to the current
// selection is the subscriber's job.
type Router struct {
	mu      sync.Mutex
	nextID  int
	entries []routerEntry
}

type routerEntry struct {
	id      int
	handler Handler
}

func NewRouter() *Router {
	return &Router{}
}

// Subscribe registers a handler and returns its disposer. Handlers run in
// registration order, one event at a time.
func (r *Router) Subscribe(h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, routerEntry{id: id, handler: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, entry := range r.entries {
			if entry.id == id {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				return
			}
		}
	}
}

func (r *Router) Dispatch(evt domain.ChatEvent) {
	r.mu.Lock()
	snapshot := make([]routerEntry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, entry := range snapshot {
		entry.handler(evt)
	}
}
