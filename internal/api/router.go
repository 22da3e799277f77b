package api

import (
	"net/http"

	"beadboard/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Issue endpoints (writes go through the bd CLI)
	api.HandleFunc("/issues", h.ListIssues).Methods("GET")
	api.HandleFunc("/issues", h.CreateIssue).Methods("POST")
	api.HandleFunc("/issues/{id}", h.UpdateIssue).Methods("PATCH")
	api.HandleFunc("/issues/{id}/close", h.CloseIssue).Methods("POST")

	// Workspace switch
	api.HandleFunc("/workspace", h.SwitchWorkspace).Methods("POST")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// WebSocket route for live subscriptions
	r.HandleFunc("/ws/sync", h.HandleSyncWebSocket)

	return r
}
