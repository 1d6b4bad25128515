// Package hub tracks the live chat connections and their send queues.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrBufferFull is returned when a connection's send queue is full.
var ErrBufferFull = errors.New("send buffer full")

// SendBuffer is the per-connection queue length.
const SendBuffer = 256

// Connection is one websocket client. SessionID is assigned on upgrade and
// never changes.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	mu sync.Mutex
}

// Hub manages all websocket connections.
type Hub struct {
	connections map[string]*Connection
	broadcast   chan []byte

	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a hub. Broadcasts are delivered once Run is started.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		broadcast:   make(chan []byte, SendBuffer),
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

// Run delivers broadcasts until ctx is done. On return every queue is
// closed, which tells the write pumps to hang up.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.broadcast:
			h.mu.RLock()
			var slow []*Connection
			for _, conn := range h.connections {
				select {
				case conn.Send <- data:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.logger.Warn().Str("conn_id", conn.ID).Msg("buffer full, closing connection")
				h.Unregister(conn)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.connections {
		close(conn.Send)
		delete(h.connections, id)
	}
}

// NewConnection wraps ws with fresh connection and session ids.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: uuid.New().String(),
		Conn:      ws,
		Send:      make(chan []byte, SendBuffer),
	}
}

// Register adds conn to the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	h.logger.Debug().Str("conn_id", conn.ID).Str("session_id", conn.SessionID).Msg("connection registered")
}

// Unregister removes conn and closes its queue. Repeated calls are no-ops.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn.ID]
	if ok {
		delete(h.connections, conn.ID)
		close(conn.Send)
	}
	h.mu.Unlock()
	if ok {
		h.logger.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")
	}
}

// Broadcast queues data for every connection.
func (h *Hub) Broadcast(ctx context.Context, data []byte) error {
	select {
	case h.broadcast <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrNotRegistered is returned when sending to a connection that left.
var ErrNotRegistered = errors.New("connection not registered")

// Send queues data for one connection without blocking.
func (h *Hub) Send(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrNotRegistered
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSON marshals v and queues it for one connection.
func (h *Hub) SendJSON(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return h.Send(conn, data)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes to the websocket with the connection's write lock.
func (c *Connection) WriteMessage(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the websocket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
