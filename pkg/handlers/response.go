package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/middleware"
)

// maxBodyBytes bounds request bodies accepted by the admin API.
const maxBodyBytes = 4 << 20

// ValidationErrorResponse is the body of a 422 response.
type ValidationErrorResponse struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Details []apperrors.ItemError `json:"details"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrUnsupportedConnector):
		return http.StatusBadRequest, "unsupported_connector"
	case errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrConnectivity):
		return http.StatusBadGateway, "connectivity_failure"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return http.StatusInternalServerError, "credentials_key_mismatch"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError translates an error returned by the service layer into a
// response. Unexpected errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := errorStatus(err)

	var writeErr error
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		writeErr = json.NewEncoder(w).Encode(ValidationErrorResponse{
			Error:   code,
			Message: "One or more items are invalid",
			Details: ve.Items,
		})
	case status == http.StatusInternalServerError:
		logger.Error("Request failed",
			zap.String("code", code),
			zap.String("request_id", w.Header().Get(middleware.RequestIDHeader)),
			zap.Error(err))
		message := "Internal server error"
		if code == "credentials_key_mismatch" {
			message = "Stored credentials cannot be decrypted with the configured key"
		}
		writeErr = ErrorResponse(w, status, code, message)
	default:
		writeErr = ErrorResponse(w, status, code, apperrors.Message(err))
	}

	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

// writeOK encodes data with the given status, logging encoding failures.
func writeOK(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, status, data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// decodeBody reads a JSON request body into dst. On failure it writes a 400
// and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		} else {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		if err := ErrorResponse(w, http.StatusBadRequest, "bad_request", msg); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
