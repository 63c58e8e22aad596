package ipc

import (
	"context"
	"encoding/json"
	"sync"
)

// Hub fans events out to stream subscribers. Slow subscribers lose events
// rather than stall the broadcaster.
type Hub struct {
	logger  Logger
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[chan []byte]struct{})}
}

// Subscribe returns a channel of encoded events, closed once ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	}()
	return ch
}

// Stream adapts the hub to a StreamFunc.
func (h *Hub) Stream() StreamFunc {
	return func(ctx context.Context, _ json.RawMessage) (<-chan []byte, *Error) {
		return h.Subscribe(ctx), nil
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast encodes event as JSON and offers it to every subscriber.
func (h *Hub) Broadcast(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("event marshal error: %v", err)
		}
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			if h.logger != nil {
				h.logger.Printf("dropping event for slow subscriber")
			}
		}
	}
}
