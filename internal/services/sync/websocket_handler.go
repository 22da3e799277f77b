package sync

import (
	"log"
	"net/http"

	"beadboard/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, validate origin properly
		return true
	},
}

// WebSocketHandler upgrades viewer connections onto the sync hub.
type WebSocketHandler struct {
	hub *Hub
}

func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleSyncConnection upgrades an HTTP request to a websocket and wires
// the connection into the hub. Subscriptions arrive as messages on the
// socket afterwards; nothing is subscribed at connect time.
func (h *WebSocketHandler) HandleSyncConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect")
	defer span.End()

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	c := newConn(h.hub, sock)
	span.SetAttributes(attribute.String("connection.id", c.ID))

	h.hub.register <- c

	// Separate goroutines prevent deadlock between reading and writing
	go c.WritePump(ctx)
	go c.ReadPump(ctx)

	log.Printf("✓ Sync connection established: %s", c.ID)
}
