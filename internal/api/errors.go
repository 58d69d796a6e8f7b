package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/framegate/internal/device"
	"github.com/nerrad567/framegate/internal/discovery"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeTooLarge       = "payload_too_large"
	ErrCodeNotConfigured  = "not_configured"
	ErrCodeUnreachable    = "device_unreachable"
	ErrCodeRejected       = "device_rejected"
	ErrCodeConfigRejected = "configuration_rejected"
	ErrCodeDiscovery      = "discovery_unavailable"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// deviceErrorStatus maps a device or discovery error to its HTTP status and error code.
func deviceErrorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeTooLarge
	case errors.Is(err, device.ErrInvalidAddress), errors.Is(err, device.ErrEmptyUpload):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, device.ErrNotConfigured):
		return http.StatusConflict, ErrCodeNotConfigured
	case errors.Is(err, device.ErrConfigurationRejected):
		return http.StatusServiceUnavailable, ErrCodeConfigRejected
	case errors.Is(err, device.ErrUnreachable),
		errors.Is(err, device.ErrProtocolMismatch),
		errors.Is(err, device.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnreachable
	case errors.Is(err, discovery.ErrSocket):
		return http.StatusServiceUnavailable, ErrCodeDiscovery
	case errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, device.ErrRejected):
		return http.StatusUnprocessableEntity, ErrCodeRejected
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDeviceError writes the structured response for a device error.
// Internal errors are logged and their detail withheld.
func (s *Server) writeDeviceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := deviceErrorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
