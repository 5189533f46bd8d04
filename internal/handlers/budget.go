package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/apierror"
	"github.com/pxl8/controlplane/internal/lease"
)

// BudgetHandler serves lease allocation requests from data planes.
type BudgetHandler struct {
	logger  *zap.Logger
	manager *lease.Manager
}

func NewBudgetHandler(logger *zap.Logger, manager *lease.Manager) *BudgetHandler {
	return &BudgetHandler{
		logger:  logger,
		manager: manager,
	}
}

// Allocate handles POST /v1/budget/allocate.
func (h *BudgetHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req lease.AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apierror.InvalidArgument("malformed request body: %v", err))
		return
	}

	resp, err := h.manager.Allocate(r.Context(), &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
