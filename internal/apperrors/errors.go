// Package apperrors defines the error types shared by the redirect and
// analytics pipeline. Handlers map them to HTTP responses with errors.As.
package apperrors

import "fmt"

// Stable error codes returned to API clients.
const (
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeMissingQuery       = "MISSING_QUERY"
	CodeMissingQRCodeID    = "MISSING_QR_CODE_ID"
	CodeInvalidQRCodeID    = "INVALID_QR_CODE_ID"
	CodeInvalidID          = "INVALID_ID"
	CodeInvalidDate        = "INVALID_DATE"
	CodeInvalidDeviceType  = "INVALID_DEVICE_TYPE"
	CodeInvalidField       = "INVALID_FIELD"
	CodeQRCodeNotFound     = "QR_CODE_NOT_FOUND"
	CodeScanNotFound       = "SCAN_NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// ValidationError reports malformed identifiers or input.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// NotFoundError reports an unknown short code, QR code id or scan id.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// ExternalServiceError wraps a failed call to a third-party service. It is
// recovered where it occurs and only ever logged.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a store read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// MalformedDestinationError means a destination URL could not be parsed when
// composing a redirect.
type MalformedDestinationError struct {
	URL string
	Err error
}

func (e *MalformedDestinationError) Error() string {
	return fmt.Sprintf("malformed destination url %q: %v", e.URL, e.Err)
}

func (e *MalformedDestinationError) Unwrap() error {
	return e.Err
}
