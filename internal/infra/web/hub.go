package web

import (
	"context"
	"encoding/json"
	"sync"

	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/usecase"
)

var _ adapter.Notifier = (*Hub)(nil)

const subscriberBuffer = 32

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// Hub fans snapshots and notices out to event stream clients. A client
// that falls behind loses events rather than stalling the session.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a client. The channel is closed by cancel or Close.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *Hub) Notify(_ context.Context, n adapter.Notice) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	h.broadcast(Event{Name: "notice", Data: b})
	return nil
}

// PublishSnapshot is the session observer.
func (h *Hub) PublishSnapshot(s usecase.Snapshot) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	h.broadcast(Event{Name: "state", Data: b})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
