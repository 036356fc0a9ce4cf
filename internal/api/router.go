package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	// Apply global middleware
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware(h.logger))

	// Public routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/auth/token", h.Token).Methods("POST")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(h.AuthMiddleware)

	api.HandleFunc("/state", h.GetState).Methods("GET")
	api.HandleFunc("/limits", h.GetLimits).Methods("GET")
	api.HandleFunc("/initialize", h.Initialize).Methods("POST")
	api.HandleFunc("/bet", h.PlaceBet).Methods("POST")
	api.HandleFunc("/end-round", h.EndRound).Methods("POST")
	api.HandleFunc("/balance/refresh", h.RefreshBalance).Methods("POST")
	api.HandleFunc("/event", h.SendEvent).Methods("POST")

	// WebSocket state feed
	api.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, CodeNotFound, "Resource not found")
}
