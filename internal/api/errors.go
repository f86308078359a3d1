package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeUnsupported        = "unsupported"
	ErrCodeDeviceUnreachable  = "device_unreachable"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps an error from a device action to a response.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifx.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, lifx.ErrUnsupported):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, lifx.ErrRequestTimeout),
		errors.Is(err, lifx.ErrSoftDisconnect),
		errors.Is(err, lifx.ErrUpdateFailed),
		errors.Is(err, lifx.ErrSetupFailed):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceUnreachable, err.Error())
	case errors.Is(err, lifx.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "bridge is stopping")
	default:
		writeInternalError(w, err.Error())
	}
}
