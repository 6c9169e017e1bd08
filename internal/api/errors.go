package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ValidationError is a missing or empty required field. It maps to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StorageError wraps a disk or session write failure. It maps to 500 with
// a generic message; the cause is only logged.
type StorageError struct {
	Op      string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError picks the status and public message for err.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	var storageErr *StorageError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationErr.Message}, h.logger)

	case errors.As(err, &storageErr):
		h.logger.Error("Storage failure",
			zap.Error(err),
			zap.String("op", storageErr.Op),
			zap.String("path", r.URL.Path))
		msg := storageErr.Message
		if msg == "" {
			msg = "Internal server error"
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msg}, h.logger)

	default:
		h.logger.Error("Unhandled error", zap.Error(err), zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"}, h.logger)
	}
}
