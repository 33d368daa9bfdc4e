package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError writes err as the JSON error envelope. Errors outside the
// application taxonomy are reported as internal.
func WriteError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.NewInternalError("An unexpected error occurred.", err)
	}

	requestID := RequestIDFrom(r.Context())
	entry := log.WithError(appErr).WithFields(map[string]interface{}{
		"request_id": requestID,
		"path":       r.URL.Path,
		"status":     appErr.StatusCode,
	})
	if appErr.StatusCode >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}

	response := &errors.ErrorResponse{}
	response.Error.Type = appErr.Type
	response.Error.Message = appErr.Message
	response.Error.Details = appErr.Details
	response.Error.RequestID = requestID
	response.Error.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if err := WriteJSON(w, appErr.StatusCode, response); err != nil {
		log.WithError(err).Error("Failed to encode error response")
	}
}
