package vigil

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// writeJSON encodes data as JSON and writes it with the given status.
// Encoding errors are logged since the status line is already sent.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// jsonError writes a JSON-formatted error response.
func jsonError(w http.ResponseWriter, logger *zap.Logger, status int, errorType, message string) {
	if status >= http.StatusInternalServerError {
		logger.Warn("HTTP error", zap.Int("status", status), zap.String("message", message))
	}
	writeJSON(w, logger, status, map[string]any{
		"status":    "error",
		"errorType": errorType,
		"error":     message,
	})
}
