package dispatch

import (
	"log/slog"
	"sync"
)

// Hub tracks every open session so presence changes can be broadcast to
// all observers (passengers watching the map, admin listeners). It does
// not know about ride ownership; that lives in the presence registry.
type Hub struct {
	mu       sync.RWMutex
	sessions map[Sender]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[Sender]struct{}), logger: logger}
}

func (h *Hub) Add(s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

func (h *Hub) Remove(s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends the event to every open session, best effort. Send
// errors are logged and otherwise ignored; the read loop owns teardown
// of dead connections.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.RLock()
	targets := make([]Sender, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(event, payload); err != nil {
			h.logger.Debug("broadcast send failed", "event", event, "error", err)
		}
	}
}
