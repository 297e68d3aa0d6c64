// Package api implements the bearer-authenticated HTTP client for the
// typepulse backend. It centralizes 401 handling, error normalization, and
// the activity-session REST contract.
package api

import (
	"errors"
	"fmt"
)

// Error classification types for backend request failures.
const (
	// TypeUnauthenticated indicates no credential is present; no network call was made.
	TypeUnauthenticated = "unauthenticated"
	// TypeAuthExpired indicates the backend returned 401; the stored credential has been cleared.
	TypeAuthExpired = "auth_expired"
	// TypeHTTPError indicates a non-2xx, non-401 response.
	TypeHTTPError = "http_error"
	// TypeNetworkError indicates the request never produced a response.
	TypeNetworkError = "network_error"
	// TypeParseError indicates a 2xx response whose body was not valid JSON.
	TypeParseError = "parse_error"
)

// Error represents a normalized backend request failure.
type Error struct {
	// Type is one of the Type* classification constants.
	Type string `json:"type"`
	// Message is a human-readable description of the failure.
	Message string `json:"message"`
	// StatusCode is the HTTP status code associated with the failure, if any.
	StatusCode int `json:"code,omitempty"`
	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error returns a string representation of the request failure.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// errOfType checks whether err is an *Error of the given classification.
func errOfType(err error, errType string) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Type == errType
}

// IsUnauthenticated reports whether err means no credential was present.
func IsUnauthenticated(err error) bool { return errOfType(err, TypeUnauthenticated) }

// IsAuthExpired reports whether err means the backend rejected the credential.
func IsAuthExpired(err error) bool { return errOfType(err, TypeAuthExpired) }
