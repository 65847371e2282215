package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConversion    ErrorType = "conversion"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeTransport     ErrorType = "transport"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeServer        ErrorType = "server"
	ErrorTypeResponseShape ErrorType = "response_shape"
	ErrorTypeCancelled     ErrorType = "cancelled"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a page-level call that failed with this error
// may be attempted again.
func (e *DomainError) Retryable() bool {
	switch e.Type {
	case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeResponseShape:
		return true
	default:
		return false
	}
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConversionError(message string, err error) *DomainError {
	return NewError(ErrorTypeConversion, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func TransportError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransport, message, err)
}

func RateLimitError(message string, err error) *DomainError {
	return NewError(ErrorTypeRateLimit, message, err)
}

func ServerError(message string, err error) *DomainError {
	return NewError(ErrorTypeServer, message, err)
}

func ResponseShapeError(message string, err error) *DomainError {
	return NewError(ErrorTypeResponseShape, message, err)
}

func CancelledError(message string, err error) *DomainError {
	return NewError(ErrorTypeCancelled, message, err)
}

// AsDomainError converts any error into a *DomainError. Context errors are
// classified as cancelled; unknown errors default to fallback.
func AsDomainError(err error, fallback ErrorType) *DomainError {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CancelledError("operation cancelled", err)
	}
	return NewError(fallback, err.Error(), err)
}

// KindOf returns the error type of err, or "" for nil.
func KindOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	return AsDomainError(err, ErrorTypeConversion).Type
}

// IsCancelled reports whether err represents job-level cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == ErrorTypeCancelled
}
