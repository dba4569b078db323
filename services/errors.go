package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypeConfigFetch       ErrorType = "config_fetch"
	ErrorTypeSecretUnavailable ErrorType = "secret_unavailable"
	ErrorTypeSecretNotFound    ErrorType = "secret_not_found"
	ErrorTypeNotConfigured     ErrorType = "not_configured"
	ErrorTypeProvider          ErrorType = "provider"
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

// Domain error variables. These are compared by type through errors.Is;
// never call WithDetail on them, build a fresh error with NewDomainError instead.

var (
	// Configuration source errors
	ErrConfigSourceUnavailable = NewDomainError(ErrorTypeConfigFetch, "configuration source unavailable", nil)
	ErrConfigEntryNotFound     = NewDomainError(ErrorTypeNotFound, "configuration entry not found", nil)

	// Secret errors
	ErrSecretUnavailable = NewDomainError(ErrorTypeSecretUnavailable, "secret unavailable", nil)
	ErrSecretNotFound    = NewDomainError(ErrorTypeSecretNotFound, "secret not found", nil)

	// Validation Errors
	ErrInvalidInput           = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidModelConfig     = NewDomainError(ErrorTypeValidation, "invalid model configuration", nil)
	ErrInvalidSecretReference = NewDomainError(ErrorTypeValidation, "invalid secret reference", nil)
	ErrInvalidProvider        = NewDomainError(ErrorTypeValidation, "unknown model provider", nil)
	ErrEmptyMessage           = NewDomainError(ErrorTypeValidation, "message cannot be empty", nil)

	// Availability Errors
	ErrNotYetConfigured = NewDomainError(ErrorTypeNotConfigured, "model configuration not yet available", nil)

	// Conflict Errors
	ErrRefreshInProgress = NewDomainError(ErrorTypeConflict, "refresh cycle already in progress", nil)
	ErrRefresherStopped  = NewDomainError(ErrorTypeConflict, "config refresher is stopped", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	// Model Provider Errors
	ErrProviderUnavailable = NewDomainError(ErrorTypeProvider, "LLM provider unavailable", nil)
	ErrProviderTimeout     = NewDomainError(ErrorTypeProvider, "LLM provider timeout", nil)
	ErrProviderError       = NewDomainError(ErrorTypeProvider, "LLM provider error", nil)
	ErrProviderRateLimit   = NewDomainError(ErrorTypeProvider, "LLM provider rate limit", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// IsConfigFetchError checks if an error came from an unreachable or unauthorized configuration source
func IsConfigFetchError(err error) bool {
	return hasType(err, ErrorTypeConfigFetch)
}

// IsSecretUnavailableError checks if a secret could not be fetched
func IsSecretUnavailableError(err error) bool {
	return hasType(err, ErrorTypeSecretUnavailable)
}

// IsSecretNotFoundError checks if a referenced secret does not exist
func IsSecretNotFoundError(err error) bool {
	return hasType(err, ErrorTypeSecretNotFound)
}

// IsSecretError checks if an error is any secret resolution failure
func IsSecretError(err error) bool {
	return IsSecretUnavailableError(err) || IsSecretNotFoundError(err)
}

// IsNotConfiguredError checks if no configuration snapshot is available yet
func IsNotConfiguredError(err error) bool {
	return hasType(err, ErrorTypeNotConfigured)
}

// IsProviderError checks if an error is a model provider error
func IsProviderError(err error) bool {
	return hasType(err, ErrorTypeProvider)
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

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapProvider wraps an error as a model provider error
func WrapProvider(message string, err error) error {
	return NewDomainError(ErrorTypeProvider, message, err)
}

// WrapConfigFetch wraps an error as a configuration source error
func WrapConfigFetch(message string, err error) error {
	return NewDomainError(ErrorTypeConfigFetch, message, err)
}
