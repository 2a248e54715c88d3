package domain

import (
	"errors"
	"net/http"
)

// Sentinel errors - match with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// ConflictError reports a request that clashes with the current state of a resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (session)
	ResourceID   string // ID of the conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status for a conflict
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
