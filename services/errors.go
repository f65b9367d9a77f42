package services

import (
	"errors"
	"fmt"

	"github.com/upb/apiauth/models"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// Detail keys carried by forbidden errors
const (
	DetailValidPolicies  = "validPolicies"
	DetailInvalidRequest = "invalidRequest"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Authentication Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "Unauthorized", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "Forbidden", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// NewUnauthorized creates an unauthorized error. An empty message becomes "Unauthorized".
func NewUnauthorized(message string, err error) *DomainError {
	if message == "" {
		message = "Unauthorized"
	}
	return NewDomainError(ErrorTypeUnauthorized, message, err)
}

// NewForbidden creates a forbidden error carrying the policy service's verdict
// so callers can render an actionable response body.
func NewForbidden(message string, validPolicies []models.ValidPolicy, invalidRequest []models.PermissionRequest) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	e := NewDomainError(ErrorTypeForbidden, message, nil)
	if validPolicies != nil {
		e.WithDetail(DetailValidPolicies, validPolicies)
	}
	if invalidRequest != nil {
		e.WithDetail(DetailInvalidRequest, invalidRequest)
	}
	return e
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external service error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the public message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// ForbiddenDetails returns the matched policies and failed requests carried by a forbidden error
func ForbiddenDetails(err error) ([]models.ValidPolicy, []models.PermissionRequest) {
	if !IsForbiddenError(err) {
		return nil, nil
	}
	details := GetErrorDetails(err)
	policies, _ := details[DetailValidPolicies].([]models.ValidPolicy)
	requests, _ := details[DetailInvalidRequest].([]models.PermissionRequest)
	return policies, requests
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external service error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
