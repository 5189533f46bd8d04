package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/apierror"
)

// ErrorResponse is the unified error envelope shared by all Pxl8 APIs.
type ErrorResponse struct {
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	TraceID   uuid.UUID              `json:"trace_id"`
	Timestamp time.Time              `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	apiErr := apierror.FromError(err)
	traceID := uuid.New()

	logger.Warn("Request failed",
		zap.String("error_code", string(apiErr.Code)),
		zap.String("trace_id", traceID.String()),
		zap.Error(err))

	writeJSON(w, apiErr.Status(), ErrorResponse{
		ErrorCode: string(apiErr.Code),
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	})
}
