// Package realtime fans event bus notifications out to websocket clients.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dinein/backend/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// DefaultEvents is every notification a terminal screen reacts to.
var DefaultEvents = []string{
	eventbus.EventCartUpdated,
	eventbus.EventKOTSent,
	eventbus.EventKitchenUnassigned,
	eventbus.EventPaymentPartial,
	eventbus.EventOrderCompleted,
	eventbus.EventOrderRefunded,
	eventbus.EventPrintRequest,
	eventbus.EventPrintFailed,
	eventbus.EventStockReconciled,
	eventbus.EventSyncFailed,
	eventbus.EventSyncDelivered,
	eventbus.EventTableUpdated,
}

type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

type Hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	unsub   []func()
}

// NewHub subscribes to events on bus. With no events it subscribes to
// DefaultEvents. An allowedOrigin of "*" accepts any origin.
func NewHub(bus *eventbus.Bus, log logrus.FieldLogger, allowedOrigin string, events ...string) *Hub {
	if len(events) == 0 {
		events = DefaultEvents
	}
	h := &Hub{
		log:     log.WithField("component", "realtime"),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	for _, name := range events {
		h.unsub = append(h.unsub, bus.AddListener(name, h.broadcast))
	}
	return h
}

func (h *Hub) broadcast(name string, payload any) {
	raw, err := json.Marshal(Message{Event: name, Data: payload})
	if err != nil {
		h.log.WithError(err).WithField("event", name).Warn("event payload not encodable")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			delete(h.clients, c)
			c.close()
			h.log.WithField("remote", c.conn.RemoteAddr().String()).Warn("dropped slow websocket client")
		}
	}
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	for _, fn := range unsub {
		fn()
	}
}
