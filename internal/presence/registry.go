package presence

import (
	"sync"
)

// Conn is a live duplex connection as seen by the registry and dispatcher.
// Send enqueues without blocking and reports whether the frame was accepted.
type Conn interface {
	ID() string
	Send(data []byte) bool
	Close()
}

// Registry maps a userId to at most one live connection. The most recent
// Register wins.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register installs conn for userID and returns the handle it replaced, if
// any. The replaced handle is left open; closing it is the caller's choice.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = conn
	if prev != nil && prev.ID() == conn.ID() {
		return nil
	}
	return prev
}

// Unregister removes userID only while conn is still the registered handle,
// so a superseded session cannot evict its replacement.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and forgets every registered connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
