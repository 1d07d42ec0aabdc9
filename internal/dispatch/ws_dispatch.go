package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no ws session")

// wsConn is the part of *websocket.Conn a session needs.
type wsConn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSSession represents a connected driver session
type WSSession struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver sessions keyed by normalized driver identity and
// implements Pusher for drivers that have the portal open.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(key string, conn *websocket.Conn) {
	r.add(key, conn)
}

func (r *WSRegistry) add(key string, conn wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[key]; ok {
		_ = old.conn.Close()
	}
	r.sessions[key] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// Release removes key only while conn is still its session, so a replaced
// connection closing late does not drop its successor.
func (r *WSRegistry) Release(key string, conn *websocket.Conn) {
	r.release(key, conn)
}

func (r *WSRegistry) release(key string, conn wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok && s.conn == conn {
		delete(r.sessions, key)
	}
}

func (r *WSRegistry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[key]
	return ok
}

func (r *WSRegistry) Push(ctx context.Context, key string, msg PushMessage) (Receipt, error) {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return Receipt{}, ErrNoSession
	}
	id := uuid.NewString()
	if err := s.Send(map[string]any{"id": id, "type": "notification", "notification": msg}); err != nil {
		r.Remove(key)
		return Receipt{}, err
	}
	return Receipt{ID: id, Status: "delivered"}, nil
}
