package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"queue-router/internal/middleware"
)

// NewRouter wires the operational endpoints
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/is_alive", h.IsAlive).Methods(http.MethodGet)
	router.HandleFunc("/is_ready", h.IsReady).Methods(http.MethodGet)
	router.HandleFunc("/prometheus", h.Prometheus).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	return router
}
