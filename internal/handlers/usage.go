package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/apierror"
	"github.com/pxl8/controlplane/internal/usage"
)

// UsageHandler serves usage reports from data planes.
type UsageHandler struct {
	logger     *zap.Logger
	aggregator *usage.Aggregator
}

func NewUsageHandler(logger *zap.Logger, aggregator *usage.Aggregator) *UsageHandler {
	return &UsageHandler{
		logger:     logger,
		aggregator: aggregator,
	}
}

// Report handles POST /v1/usage/report.
func (h *UsageHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req usage.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apierror.InvalidArgument("malformed request body: %v", err))
		return
	}

	resp, err := h.aggregator.Report(r.Context(), &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
