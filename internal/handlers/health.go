package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/pxl8/controlplane/internal/database"
)

type HealthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports readiness of the ledger backends. In lite mode
// db is nil and the in-memory ledger is always considered healthy.
type HealthHandler struct {
	db       *gorm.DB
	liteMode bool
}

func NewHealthHandler(db *gorm.DB, liteMode bool) *HealthHandler {
	return &HealthHandler{db: db, liteMode: liteMode}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:   "ok",
		Services: make(map[string]ServiceHealth),
	}

	if h.liteMode {
		response.Services["ledger"] = ServiceHealth{Status: "healthy", Message: "in-memory ledger (lite mode)"}
	} else if database.IsHealthy(h.db) {
		response.Services["ledger"] = ServiceHealth{Status: "healthy"}
	} else {
		response.Services["ledger"] = ServiceHealth{Status: "unhealthy", Message: "database connection failed"}
		response.Status = "degraded"
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.liteMode && !database.IsHealthy(h.db) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  "database not ready",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
