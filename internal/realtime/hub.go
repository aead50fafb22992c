// Package realtime streams auction events to websocket clients
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 64
)

// Hub upgrades requests to websockets and forwards broker events. A client
// may pass ?auction_id= to watch a single auction.
type Hub struct {
	broker   *events.Broker
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// NewHub creates a hub fed by broker
func NewHub(broker *events.Broker, log logrus.FieldLogger) *Hub {
	return &Hub{
		broker: broker,
		log:    log.WithField("component", "realtime"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced by the router
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP handles one websocket connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter func(events.Event) bool
	if raw := r.URL.Query().Get("auction_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
			return
		}
		filter = events.ForAuction(id)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	sub, cancel := h.broker.Subscribe(filter)
	done := make(chan struct{})
	go h.writeLoop(c, sub, done)

	// Read until the client goes away; incoming messages are ignored
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-done
	h.remove(c)
}

func (h *Hub) writeLoop(c *client, sub <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := events.Encode(ev)
			if err != nil {
				h.log.WithError(err).WithField("event", ev.Type).Error("failed to encode event")
				continue
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				h.log.WithError(err).Debug("failed to send message")
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close sends a close frame to every client
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range h.clients {
		c.write(websocket.CloseMessage, msg)
		c.conn.Close()
	}
}
