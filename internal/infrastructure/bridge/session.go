// Package bridge carries native SDK traffic between this process and the
// host application over one websocket session. The core sends native commands
// down ("fetch these products", "launch this purchase flow") and the host
// sends native callbacks up (transaction updates, billing results), all as
// small JSON messages. The bridge knows nothing about purchase semantics; it
// only correlates replies to calls and dispatches events to handlers.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message kinds on the wire.
const (
	kindCall  = "call"
	kindReply = "reply"
	kindEvent = "event"
)

// ErrNotAttached is returned when a native command is issued before the host
// application opened its bridge session.
var ErrNotAttached = errors.New("bridge: host session not attached")

// Message is the wire envelope. Calls carry an id the host echoes back on the
// reply; events carry no id.
type Message struct {
	ID      uint64          `json:"id,omitempty"`
	Kind    string          `json:"kind"`
	Method  string          `json:"method,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventHandler consumes one host-pushed event payload.
type EventHandler func(payload json.RawMessage)

// Session is the process-wide bridge endpoint. One host connection serves it
// at a time; a reconnecting host replaces the previous connection.
type Session struct {
	log *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   uint64
	pending  map[uint64]chan Message
	handlers map[string]EventHandler
}

func NewSession(log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		log:      log.With(zap.String("component", "bridge")),
		pending:  make(map[uint64]chan Message),
		handlers: make(map[string]EventHandler),
	}
}

// Handle registers the handler for a host-pushed event method. Register all
// handlers before the host attaches.
func (s *Session) Handle(method string, fn EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// Attached reports whether a host session is currently connected.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Serve adopts a host connection and pumps its messages until the connection
// dies. It blocks, so call it from the websocket upgrade handler.
func (s *Session) Serve(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("host session attached", zap.String("remote", conn.RemoteAddr().String()))

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.detach(conn, err)
			return
		}

		switch msg.Kind {
		case kindReply:
			s.mu.Lock()
			ch, ok := s.pending[msg.ID]
			if ok {
				delete(s.pending, msg.ID)
			}
			s.mu.Unlock()
			if !ok {
				s.log.Debug("reply for unknown call", zap.Uint64("id", msg.ID))
				continue
			}
			ch <- msg
		case kindEvent:
			s.mu.Lock()
			fn, ok := s.handlers[msg.Method]
			s.mu.Unlock()
			if !ok {
				s.log.Warn("no handler for host event", zap.String("method", msg.Method))
				continue
			}
			fn(msg.Payload)
		default:
			s.log.Warn("unexpected message kind", zap.String("kind", msg.Kind))
		}
	}
}

func (s *Session) detach(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	orphaned := s.pending
	s.pending = make(map[uint64]chan Message)
	s.mu.Unlock()

	_ = conn.Close()
	for _, ch := range orphaned {
		ch <- Message{Kind: kindReply, Error: ErrNotAttached.Error()}
	}
	s.log.Info("host session detached", zap.Error(cause))
}

// Call sends a native command and waits for the host's reply. When out is
// non-nil the reply payload is unmarshaled into it.
func (s *Session) Call(ctx context.Context, method string, params any, out any) error {
	var payload json.RawMessage
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("bridge: marshal %s params: %w", method, err)
		}
		payload = raw
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotAttached
	}
	s.nextID++
	id := s.nextID
	ch := make(chan Message, 1)
	s.pending[id] = ch
	err := s.conn.WriteJSON(Message{ID: id, Kind: kindCall, Method: method, Payload: payload})
	s.mu.Unlock()

	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return fmt.Errorf("bridge: send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ctx.Err()
	case reply := <-ch:
		if reply.Error != "" {
			return fmt.Errorf("bridge: %s: %s", method, reply.Error)
		}
		if out != nil && len(reply.Payload) > 0 {
			if err := json.Unmarshal(reply.Payload, out); err != nil {
				return fmt.Errorf("bridge: decode %s reply: %w", method, err)
			}
		}
		return nil
	}
}
