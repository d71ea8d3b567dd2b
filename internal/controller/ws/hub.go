// Package ws fans committed job events out to the browser. Delivery is
// best-effort and at-most-once per connection: a slow subscriber is dropped
// rather than buffered, and a reconnecting client re-fetches current state
// over the REST API instead of relying on the push channel for catch-up.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cadbridge/internal/domain/entity"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 16
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy is enforced by the fronting proxy
		return true
	},
}

type client struct {
	conn      *websocket.Conn
	send      chan entity.JobEvent
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub routes job events to the WebSocket connections of their owning
// session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
	log      *logrus.Entry
}

func NewHub(lg *logrus.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*client]struct{}),
		log:      lg.WithField("component", "ws_hub"),
	}
}

// Pump feeds events from the cross-process channel into the local
// connections until ctx is done or the channel closes.
func (h *Hub) Pump(ctx context.Context, events <-chan entity.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast delivers one event to every subscriber of the owning session.
// A subscriber whose buffer is full is disconnected instead of blocking
// the pump.
func (h *Hub) Broadcast(ev entity.JobEvent) {
	h.mu.RLock()
	var stalled []*client
	for c := range h.sessions[ev.SessionID] {
		select {
		case c.send <- ev:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.log.WithField("session_id", ev.SessionID).Warn("dropping stalled subscriber")
		h.remove(ev.SessionID, c)
	}
}

// SubscriberCount reports the current subscribers of a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) add(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*client]struct{})
	}
	h.sessions[sessionID][c] = struct{}{}
}

func (h *Hub) remove(sessionID string, c *client) {
	h.mu.Lock()
	if set, ok := h.sessions[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Handler upgrades the connection and subscribes it to the caller's
// session until the peer disconnects.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(ginCtx *gin.Context) {
		sessionID := ginCtx.GetString("session_id")
		if sessionID == "" {
			ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
			return
		}

		conn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		c := &client{conn: conn, send: make(chan entity.JobEvent, clientBuffer)}
		h.add(sessionID, c)

		go h.writeLoop(sessionID, c)
		h.readLoop(sessionID, c)
	}
}

func (h *Hub) writeLoop(sessionID string, c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(sessionID, c)
			return
		}
	}
}

// readLoop discards inbound frames; its job is to notice the peer going
// away.
func (h *Hub) readLoop(sessionID string, c *client) {
	defer h.remove(sessionID, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
