package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// ConnectionError indicates the model backend was unreachable or
	// rejected authentication before any delta arrived.
	ConnectionError struct {
		Message string
	}

	// ProviderError indicates the backend returned a structured error
	// payload during the handshake.
	ProviderError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }
func (e *ConnectionError) Error() string { return e.Message }
func (e *ProviderError) Error() string   { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *ConnectionError) StatusCode() int { return http.StatusBadGateway }
func (e *ProviderError) StatusCode() int   { return http.StatusBadGateway }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConnection = errors.New("backend unreachable")
	ErrProvider   = errors.New("backend error")
)

func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
func (e *ProviderError) Is(target error) bool   { return target == ErrProvider }
