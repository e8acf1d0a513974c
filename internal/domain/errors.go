package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited signals that the client exhausted its request window.
	ErrRateLimited = errors.New("rate limited")
	// ErrValidation signals a missing credential or a malformed filter.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream signals a failed or malformed upstream registry response.
	ErrUpstream = errors.New("upstream registry error")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrUnsupportedProvider signals an unknown embedding provider name.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
)

// UpstreamError carries the registry's status and message through the error chain.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream.Error(), e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// NewUpstreamError creates an upstream failure with the given status and message.
func NewUpstreamError(status int, message string) error {
	return &UpstreamError{Status: status, Message: message}
}

// ValidationError wraps ErrValidation with a client-facing reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation failure with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// RateLimitError wraps ErrRateLimited with the time until the window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
