package ingest

import (
	"sync"
	"time"
)

// Event is one coordinator state transition, published per slug.
type Event struct {
	Slug   string    `json:"slug"`
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"` // set when State is failed
	At     time.Time `json:"at"`
}

// ProgressHub fans state transitions out to websocket subscribers.
// Slow subscribers are skipped, never blocked on.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers interest in a slug's transitions. The cancel
// function unregisters and closes the channel.
func (h *ProgressHub) Subscribe(slug string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[slug] == nil {
		h.subs[slug] = make(map[chan Event]struct{})
	}
	h.subs[slug][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[slug]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(h.subs, slug)
				}
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its slug.
func (h *ProgressHub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.Slug] {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the pipeline.
		}
	}
}
