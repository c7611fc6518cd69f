package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the monitor API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates an APIError for a missing resource.
func NewNotFoundError(what, id string) *APIError {
	return &APIError{Code: ErrNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

// NewValidationError creates an APIError for a bad request.
func NewValidationError(msg string) *APIError {
	return &APIError{Code: ErrValidation, Message: msg}
}

// NewInternalError creates an APIError that hides internal detail.
func NewInternalError() *APIError {
	return &APIError{Code: ErrInternal, Message: "internal error"}
}
