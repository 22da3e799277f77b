package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleSyncWebSocket upgrades a viewer connection onto the sync hub.
func (h *Handler) HandleSyncWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleSyncConnection(w, r)
}
