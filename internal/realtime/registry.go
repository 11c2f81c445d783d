package realtime

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrConnClosed    = errors.New("realtime: connection closed")
	ErrSendQueueFull = errors.New("realtime: send queue full")
)

// Conn is one live channel to one consumer. Send must not block: it either
// queues the frame or reports why it could not.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close()
}

// Registry owns the set of open connections. It is the only writer of that
// set and the only component that closes a connection.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[string]Conn
	closed bool
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[string]Conn),
	}
}

// Register adds c to the open set. Registering an already open connection is
// a no-op. It returns false if the registry has been shut down, in which case
// c is closed.
func (r *Registry) Register(c Conn) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		c.Close()
		return false
	}
	if _, ok := r.conns[c.ID()]; ok {
		r.mu.Unlock()
		return true
	}
	r.conns[c.ID()] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("client registered", "conn", c.ID(), "connections", n)
	return true
}

// Deregister removes c and closes it. Safe to call repeatedly and from any
// goroutine; only the first call closes the connection.
func (r *Registry) Deregister(c Conn) {
	r.mu.Lock()
	cur, ok := r.conns[c.ID()]
	if ok && cur == c {
		delete(r.conns, c.ID())
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok || cur != c {
		return
	}
	c.Close()
	r.logger.Info("client unregistered", "conn", c.ID(), "connections", n)
}

// ForEachOpen calls fn for every connection open at the time of the call.
// fn runs outside the lock, so it may deregister connections.
func (r *Registry) ForEachOpen(fn func(Conn)) {
	for _, c := range r.snapshot() {
		fn(c)
	}
}

func (r *Registry) Contains(c Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.conns[c.ID()]
	return ok && cur == c
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close deregisters and closes every connection and refuses new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
