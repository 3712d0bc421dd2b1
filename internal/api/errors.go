package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/switchboard-core/internal/bridge"
)

// Error is the structured body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error, so clients can return a decoded response as is.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal_error"
	ErrCodeInvalidService = "invalid_service"
	ErrCodeNotRunning     = "not_running"
	ErrCodeWriteFailed    = "write_failed"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeNotFound       = "not_found"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps gateway errors onto HTTP statuses.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrInvalidService):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidService, err.Error())
	case errors.Is(err, bridge.ErrNotRunning):
		writeError(w, http.StatusConflict, ErrCodeNotRunning, err.Error())
	case errors.Is(err, bridge.ErrWriteFailed):
		writeError(w, http.StatusBadGateway, ErrCodeWriteFailed, err.Error())
	case errors.Is(err, bridge.ErrShuttingDown), errors.Is(err, bridge.ErrNoStore):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, bridge.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
