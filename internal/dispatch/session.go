package dispatch

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for every realtime event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Sender is a destination for realtime events. The production
// implementation is Session; tests substitute their own.
type Sender interface {
	Send(event string, payload any) error
}

// Session is a single connected websocket client. Writes are serialized
// by a per-connection mutex; gorilla/websocket allows at most one
// concurrent writer.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewSession(conn *websocket.Conn) *Session {
	return &Session{conn: conn}
}

func (s *Session) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: event, Data: payload})
}

func (s *Session) Close() error {
	return s.conn.Close()
}
