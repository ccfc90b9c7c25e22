package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devportal-core/internal/device"
	"github.com/nerrad567/devportal-core/internal/portal"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeForbidden     = "forbidden"
	ErrCodeConflict      = "conflict"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeDeviceError   = "device_error"
	ErrCodeUnsupported   = "unsupported_operation"
	ErrCodeDeviceTimeout = "device_unreachable"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
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

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// isValidationError checks if an error is a device validation error.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidAddress)
}

// writeDeviceError maps an error from a live device operation to a response.
// The device's own HTTP status is reported in the message, never passed
// through as ours.
func writeDeviceError(w http.ResponseWriter, err error) {
	var (
		unsupported *portal.UnsupportedOperationError
		transport   *portal.TransportError
		pe          *portal.PortalError
	)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.As(err, &unsupported):
		writeError(w, http.StatusConflict, ErrCodeUnsupported, unsupported.Error())
	case errors.Is(err, portal.ErrCertificateUnavailable), errors.Is(err, portal.ErrCertificateUntrusted):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, "device certificate could not be trusted")
	case errors.As(err, &pe):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, pe.Error())
	case errors.As(err, &transport):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceTimeout, "device unreachable")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
	}
}
