package utils

import (
	"encoding/json"
	"net/http"

	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services"
	"go.uber.org/zap"
)

// Error codes rendered in ErrorResponse.Code
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Status  int               `json:"status"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// ForbiddenResponse is the 403 body. Both policy lists are always present.
type ForbiddenResponse struct {
	Status         int                        `json:"status"`
	Code           string                     `json:"code"`
	Message        string                     `json:"message"`
	ValidPolicies  []models.ValidPolicy       `json:"validPolicies"`
	InvalidRequest []models.PermissionRequest `json:"invalidRequest"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteBadRequest writes a 400 Bad Request response with per-field errors
func WriteBadRequest(w http.ResponseWriter, message string, fields map[string]string) error {
	if message == "" {
		message = "Bad request"
	}
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Status:  http.StatusBadRequest,
		Code:    CodeBadRequest,
		Message: message,
		Errors:  fields,
	})
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Unauthorized"
	}
	return WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
		Status:  http.StatusUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
	})
}

// WriteForbidden writes a 403 Forbidden response with the policy verdict
func WriteForbidden(w http.ResponseWriter, message string, validPolicies []models.ValidPolicy, invalidRequest []models.PermissionRequest) error {
	if message == "" {
		message = "Forbidden"
	}
	if validPolicies == nil {
		validPolicies = []models.ValidPolicy{}
	}
	if invalidRequest == nil {
		invalidRequest = []models.PermissionRequest{}
	}
	return WriteJSON(w, http.StatusForbidden, ForbiddenResponse{
		Status:         http.StatusForbidden,
		Code:           CodeForbidden,
		Message:        message,
		ValidPolicies:  validPolicies,
		InvalidRequest: invalidRequest,
	})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Not found"
	}
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: message,
	})
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalServerError,
		Message: message,
	})
}

// WriteError maps a domain error to its HTTP response. Errors that are not
// unauthorized, forbidden, validation or not-found are logged and rendered
// as a generic 500.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var writeErr error
	switch {
	case services.IsUnauthorizedError(err):
		writeErr = WriteUnauthorized(w, services.GetErrorMessage(err))

	case services.IsForbiddenError(err):
		policies, requests := services.ForbiddenDetails(err)
		writeErr = WriteForbidden(w, services.GetErrorMessage(err), policies, requests)

	case services.IsValidationError(err):
		writeErr = WriteBadRequest(w, services.GetErrorMessage(err), GetValidationFields(err))

	case services.IsNotFoundError(err):
		writeErr = WriteNotFound(w, services.GetErrorMessage(err))

	default:
		logger.Error("unhandled error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = WriteInternalServerError(w, "")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}
