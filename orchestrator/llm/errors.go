// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import "fmt"

// ProviderNotFoundError indicates the caller requested a provider that
// is unknown to the registry or disabled in configuration. It is never
// retried and no dispatch is attempted.
type ProviderNotFoundError struct {
	Provider string
}

// Error implements the error interface.
func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("llm provider %q not found or disabled", e.Provider)
}

// ModelNotFoundError indicates the requested model is not in the
// resolved provider's catalog.
type ModelNotFoundError struct {
	Provider string
	Model    string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not in provider %q catalog", e.Model, e.Provider)
}

// ValidationError indicates a malformed request that was rejected
// before any provider dispatch.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// LLMError indicates a provider call failed after exhausting the
// primary and, where configured, the fallback route. It carries the
// last attempted provider and model and the last underlying cause.
type LLMError struct {
	Provider string
	Model    string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("llm request failed on %s:%s: %s", e.Provider, e.Model, e.Message)
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by a provider backend.
// The Retryable flag drives the router's bounded in-provider retries.
type ProviderError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Common provider error codes.
const (
	ErrCodeRateLimit      = "rate_limit"
	ErrCodeAuth           = "authentication_error"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeServerError    = "server_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnavailable    = "unavailable"
)

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError with retryability derived
// from the code.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
