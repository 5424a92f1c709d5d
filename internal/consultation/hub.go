package consultation

import (
	"sync"

	"github.com/rs/zerolog"

	"opd-copilot/internal/pipeline"
)

const subscriberBuffer = 64

// hub fans a session's events out to its stream subscribers. Emit never
// blocks: a subscriber whose buffer is full is dropped.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan pipeline.Event
	next   int
	closed bool
	log    zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{subs: map[int]chan pipeline.Event{}, log: logger}
}

func (h *hub) Emit(e pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Warn().Int("subscriber", id).Str("event", string(e.Type)).Msg("slow subscriber dropped")
			close(ch)
			delete(h.subs, id)
		}
	}
}

// subscribe registers a new stream. The returned cancel func is idempotent.
func (h *hub) subscribe() (<-chan pipeline.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan pipeline.Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			close(c)
			delete(h.subs, id)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
