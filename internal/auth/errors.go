// Package auth implements the browser-mediated login handshake for the
// typepulse backend: an ephemeral loopback HTTP listener receives the OAuth
// redirect, the CSRF state is validated, and the resulting bearer token is
// persisted to the credential store.
package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthenticationError represents login-flow failures.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Common authentication error values.
var (
	// ErrFlowInProgress rejects a second login attempt while one is pending.
	ErrFlowInProgress = &AuthenticationError{
		Type:    "flow_in_progress",
		Message: "A login flow is already in progress",
		Code:    http.StatusConflict,
	}

	// ErrPortUnavailable indicates the fixed callback port could not be bound.
	ErrPortUnavailable = &AuthenticationError{
		Type:    "port_unavailable",
		Message: "OAuth callback port is already in use",
		Code:    http.StatusServiceUnavailable,
	}

	// ErrBrowserLaunchFailed indicates the system browser could not be opened.
	ErrBrowserLaunchFailed = &AuthenticationError{
		Type:    "browser_launch_failed",
		Message: "Failed to open the system browser",
		Code:    http.StatusInternalServerError,
	}

	// ErrStateMismatch indicates the callback's state did not match the issued nonce.
	ErrStateMismatch = &AuthenticationError{
		Type:    "state_mismatch",
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusBadRequest,
	}

	// ErrNoToken indicates the callback matched but carried no token.
	ErrNoToken = &AuthenticationError{
		Type:    "no_token",
		Message: "No token received from authentication server",
		Code:    http.StatusInternalServerError,
	}

	// ErrFlowTimedOut indicates no callback arrived before the flow deadline.
	ErrFlowTimedOut = &AuthenticationError{
		Type:    "flow_timed_out",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Type {
	case ErrFlowInProgress.Type:
		return "A login is already in progress. Finish it in your browser or wait for it to time out."
	case ErrPortUnavailable.Type:
		return "The required port is already in use. Please close any applications using it and try again."
	case ErrBrowserLaunchFailed.Type:
		return "Could not open your browser automatically. Please try again."
	case ErrStateMismatch.Type:
		return "The login response could not be verified. Please try again."
	case ErrNoToken.Type:
		return "The authentication server did not return a token. Please try again."
	case ErrFlowTimedOut.Type:
		return "Authentication timed out. Please try again."
	default:
		return "Authentication failed. Please try again."
	}
}
