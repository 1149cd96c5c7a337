// Package api exposes the operational HTTP surface: health probing for
// process supervisors and uptime monitors.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/parcelwatch/parcelwatch/internal/api/recovery"
	"github.com/parcelwatch/parcelwatch/internal/api/respond"
)

// HealthHandler reports the aggregated service health flag.
type HealthHandler struct {
	isHealthy func() bool
}

func NewHealthHandler(isHealthy func() bool) *HealthHandler {
	return &HealthHandler{isHealthy: isHealthy}
}

// CheckHealth handles GET /api/health
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if h.isHealthy == nil || h.isHealthy() {
		respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "UP",
			"message":   "Service is healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"status":    "DOWN",
		"message":   "One or more dependencies unavailable",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// NewRouter wires the operational routes.
func NewRouter(isHealthy func() bool) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	health := NewHealthHandler(isHealthy)
	root.HandleFunc("/api/health", health.CheckHealth).Methods("GET")
	return root
}
