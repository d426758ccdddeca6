// Package core provides core types and interfaces for the AI proxy.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass drives the resolution engine's failover decision for an attempt.
type ErrorClass string

const (
	// ErrorClassInvalidInput indicates the caller's request is malformed.
	// Terminal: no candidate is consulted.
	ErrorClassInvalidInput ErrorClass = "invalid_input"
	// ErrorClassUnauthorized indicates the credential was rejected.
	// The engine skips all remaining models for that credential.
	ErrorClassUnauthorized ErrorClass = "unauthorized"
	// ErrorClassUnsupportedModel indicates the model is unknown to an
	// otherwise valid credential. The engine advances to the next model
	// under the same credential.
	ErrorClassUnsupportedModel ErrorClass = "unsupported_model"
	// ErrorClassRateLimited indicates the provider throttled the call (429).
	// Retryable at matrix level.
	ErrorClassRateLimited ErrorClass = "rate_limited"
	// ErrorClassTransient covers network errors, timeouts and provider 5xx.
	// Retryable at matrix level.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassExhausted means every candidate failed. Wraps the last
	// observed failure.
	ErrorClassExhausted ErrorClass = "exhausted"
	// ErrorClassUpstreamMalformed means the provider returned an unexpected
	// response shape.
	ErrorClassUpstreamMalformed ErrorClass = "upstream_malformed"
	// ErrorClassNoProvider means no credential and no alternate backend is
	// configured at all.
	ErrorClassNoProvider ErrorClass = "no_provider"
)

// ProxyError is the error type crossing the transport boundary. Transports
// classify provider-specific failures into it; the resolution engine only
// looks at Class.
type ProxyError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Backend string     `json:"backend,omitempty"`
	// Err is the underlying error, kept for server-side logs only.
	Err error `json:"-"`
	// AllUnauthorized marks an exhausted resolution in which every attempted
	// candidate failed with a credential rejection, as opposed to the last
	// one happening to. Only set when Class is ErrorClassExhausted.
	AllUnauthorized bool `json:"-"`
}

func (e *ProxyError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Backend, e.Class, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error class to the status the request surface
// should answer with.
func (e *ProxyError) HTTPStatusCode() int {
	switch e.Class {
	case ErrorClassInvalidInput:
		return http.StatusBadRequest
	case ErrorClassNoProvider:
		return http.StatusServiceUnavailable
	case ErrorClassUnauthorized:
		return http.StatusUnauthorized
	case ErrorClassRateLimited:
		return http.StatusTooManyRequests
	case ErrorClassExhausted, ErrorClassTransient, ErrorClassUpstreamMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Terminal reports whether the error must abort the whole resolution.
func (e *ProxyError) Terminal() bool {
	return e.Class == ErrorClassInvalidInput || e.Class == ErrorClassNoProvider
}

// NewInvalidInputError creates a terminal caller-fault error.
func NewInvalidInputError(message string) *ProxyError {
	return &ProxyError{Class: ErrorClassInvalidInput, Message: message}
}

// NewNoProviderError reports that the pool is empty and no alternate backend
// is configured.
func NewNoProviderError() *ProxyError {
	return &ProxyError{Class: ErrorClassNoProvider, Message: "no AI provider configured"}
}

// NewUnauthorizedError creates a credential-class error.
func NewUnauthorizedError(backend, message string) *ProxyError {
	return &ProxyError{Class: ErrorClassUnauthorized, Backend: backend, Message: message}
}

// NewUnsupportedModelError creates a model-class error.
func NewUnsupportedModelError(backend, model string) *ProxyError {
	return &ProxyError{
		Class:   ErrorClassUnsupportedModel,
		Backend: backend,
		Message: "model not available: " + model,
	}
}

// NewTransientError creates a retryable error wrapping err.
func NewTransientError(backend string, err error) *ProxyError {
	return &ProxyError{Class: ErrorClassTransient, Backend: backend, Message: err.Error(), Err: err}
}

// NewExhaustedError wraps the last failure after the full matrix was walked.
func NewExhaustedError(last error) *ProxyError {
	msg := "all provider candidates failed"
	if last != nil {
		msg = fmt.Sprintf("all provider candidates failed, last error: %v", last)
	}
	return &ProxyError{Class: ErrorClassExhausted, Message: msg, Err: last}
}

// ClassifyStatus converts a provider HTTP status into a classified error.
// The message should already be extracted from the provider's error body.
func ClassifyStatus(backend string, statusCode int, message string) *ProxyError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewUnauthorizedError(backend, message)
	case statusCode == http.StatusNotFound:
		return &ProxyError{Class: ErrorClassUnsupportedModel, Backend: backend, Message: message}
	case statusCode == http.StatusTooManyRequests:
		return &ProxyError{Class: ErrorClassRateLimited, Backend: backend, Message: message}
	case statusCode >= 400 && statusCode < 500:
		// Provider-side 400s on a proxied payload are treated as retryable:
		// a different model or key may accept the same request. Genuinely
		// malformed caller input is rejected before any provider call.
		return &ProxyError{Class: ErrorClassTransient, Backend: backend,
			Message: fmt.Sprintf("provider rejected request (status %d): %s", statusCode, message)}
	default:
		return &ProxyError{Class: ErrorClassTransient, Backend: backend,
			Message: fmt.Sprintf("provider error (status %d): %s", statusCode, message)}
	}
}

// Classify converts an arbitrary transport error into a ProxyError.
// Already-classified errors pass through unchanged; context timeouts and
// network failures become transient.
func Classify(backend string, err error) *ProxyError {
	if err == nil {
		return nil
	}
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProxyError{Class: ErrorClassTransient, Backend: backend,
			Message: "provider call timed out", Err: err}
	}
	return NewTransientError(backend, err)
}

// ClassOf extracts the error class, or ErrorClassTransient for unclassified
// errors.
func ClassOf(err error) ErrorClass {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ErrorClassTransient
}
