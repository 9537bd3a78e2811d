// Package push delivers serialized payloads to live connections. The engine
// and protocol handler only see the Channel interface; the Hub is the
// in-process websocket implementation.
package push

import (
	"context"
	"errors"
	"sync"
)

// ErrConnectionGone is returned when the connection id has no live socket.
// Callers treat delivery as best effort and swallow this.
var ErrConnectionGone = errors.New("connection gone")

// Channel sends payloads to connections and evicts them.
type Channel interface {
	Send(ctx context.Context, connID string, payload []byte) error
	Evict(ctx context.Context, connID string) error
}

// Conn is one registered connection. The transport drains Outbound into the
// websocket and closes the socket when Done is signalled.
type Conn struct {
	ID   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Outbound returns the stream of payloads queued for this connection.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed when the connection has been evicted.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub maps connection ids to live connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Register installs a new connection under connID.
func (h *Hub) Register(connID string) *Conn {
	c := &Conn{
		ID:   connID,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()
	return c
}

// Unregister drops the connection. Called by the transport once the socket
// is gone.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Send queues a payload for the connection. The payload is dropped if the
// connection's buffer is full.
func (h *Hub) Send(ctx context.Context, connID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionGone
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionGone
	case <-ctx.Done():
		return ctx.Err()
	default:
		// drop message if buffer full
		return nil
	}
}

// Evict signals the connection's transport to close the socket.
func (h *Hub) Evict(ctx context.Context, connID string) error {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()
	if !ok {
		return ErrConnectionGone
	}
	c.close()
	return nil
}
