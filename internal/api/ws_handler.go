package api

import (
	"log"
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/mailchat/mailchat/internal/websocket"
)

// WebSocketHandler upgrades connections and parks them in the hub. The
// stream is push-only; client frames are read and discarded to keep the
// connection's control frames flowing.
type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
}

func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		return
	}

	go func() {
		defer h.hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
