package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Muvon/octomind-sub000/internal/config"
	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/session"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBusy           = "BUSY"
	ErrCodeInterrupted    = "INTERRUPTED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeMaxToolRounds  = "MAX_TOOL_ROUNDS"
	ErrCodeProviderError  = "PROVIDER_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// classify maps an engine error to a status and error code.
func classify(err error) (int, string) {
	var pe *provider.Error
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, toolserver.ErrServerNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, ErrCodeBusy
	case errors.Is(err, session.ErrTurnTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, layer.ErrMaxToolRounds):
		return http.StatusUnprocessableEntity, ErrCodeMaxToolRounds
	case errors.Is(err, context.Canceled):
		return http.StatusConflict, ErrCodeInterrupted
	case errors.As(err, &pe):
		if pe.Kind == provider.KindRateLimit {
			return http.StatusTooManyRequests, ErrCodeRateLimited
		}
		return http.StatusBadGateway, ErrCodeProviderError
	case errors.Is(err, session.ErrInvalidName), errors.Is(err, session.ErrEmptySession), config.IsConfigError(err):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// writeEngineError writes err with the status classify picks for it.
func writeEngineError(w http.ResponseWriter, err error, details map[string]any) {
	status, code := classify(err)
	writeErrorWithDetails(w, status, code, err.Error(), details)
}
