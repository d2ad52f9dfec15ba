// Package websocket pushes engine events (new messages, sync results) to
// connected UI clients. One UI session observes all accounts, so the hub
// broadcasts; events carry the account id in their payload.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client wraps one WebSocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Hub manages the active WebSocket connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	max     int
}

// NewHub creates a Hub with a connection limit.
func NewHub(max int) *Hub {
	if max <= 0 {
		max = 10
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		max:     max,
	}
}

// Register adds a connection. If the limit is exceeded, the new connection
// is closed and nil is returned.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.max {
		log.Printf("websocket: connection limit (%d) exceeded, closing new connection", h.max)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	h.clients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, msg)
		client.mu.Unlock()
		if err != nil {
			log.Printf("websocket: failed to write message: %v", err)
			go h.Unregister(client)
		}
	}
}

// BroadcastEvent marshals and broadcasts a typed event.
func (h *Hub) BroadcastEvent(eventType string, payload any) {
	event := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: eventType, Data: payload}

	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("websocket: failed to marshal %s event: %v", eventType, err)
		return
	}
	h.Broadcast(raw)
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
