// Package oautherr defines the structured OAuth 2.0 error value shared by
// every engine component. Each error carries the HTTP status, the RFC 6749
// error code and a human-readable description.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidScope            = "invalid_scope"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeLoginRequired           = "login_required"
	CodeConsentRequired         = "consent_required"
	CodeAccountSelectionNeeded  = "account_selection_required"
	CodeServerError             = "server_error"
	CodeInvalidClientMetadata   = "invalid_client_metadata"
	CodeInvalidRedirectURI      = "invalid_redirect_uri"
	CodeRateLimitExceeded       = "rate_limit_exceeded"
)

// Error represents an OAuth 2.0 error response
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Parameters returns the error as OAuth response parameters.
func (e *Error) Parameters() map[string]string {
	params := map[string]string{"error": e.Code}
	if e.Description != "" {
		params["error_description"] = e.Description
	}
	return params
}

// New creates a new OAuth error
func New(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// From converts any error into a structured OAuth error.
// Errors that are not OAuth errors are reported as server_error without
// exposing their message.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ServerError("An internal server error occurred.")
}

// Is reports whether err is an OAuth error with the given code.
func Is(err error, code string) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}

// InvalidRequest indicates the request is malformed or missing required parameters
func InvalidRequest(desc string) *Error {
	return New(CodeInvalidRequest, desc, http.StatusBadRequest)
}

// InvalidClient indicates client authentication failed
func InvalidClient(desc string) *Error {
	return New(CodeInvalidClient, desc, http.StatusUnauthorized)
}

// InvalidGrant indicates the authorization code or refresh token is invalid, expired or reused
func InvalidGrant(desc string) *Error {
	return New(CodeInvalidGrant, desc, http.StatusBadRequest)
}

// InvalidScope indicates the requested scope is invalid or unsupported
func InvalidScope(desc string) *Error {
	return New(CodeInvalidScope, desc, http.StatusBadRequest)
}

// UnauthorizedClient indicates the client is not allowed to use the requested grant or response type
func UnauthorizedClient(desc string) *Error {
	return New(CodeUnauthorizedClient, desc, http.StatusBadRequest)
}

// UnsupportedGrantType indicates the grant type is not supported by the server
func UnsupportedGrantType(desc string) *Error {
	return New(CodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// UnsupportedResponseType indicates the response type is not supported by the server
func UnsupportedResponseType(desc string) *Error {
	return New(CodeUnsupportedResponseType, desc, http.StatusBadRequest)
}

// AccessDenied indicates the resource owner denied the request
func AccessDenied(desc string) *Error {
	return New(CodeAccessDenied, desc, http.StatusBadRequest)
}

// LoginRequired indicates prompt=none was used but the user is not authenticated
func LoginRequired(desc string) *Error {
	return New(CodeLoginRequired, desc, http.StatusBadRequest)
}

// ConsentRequired indicates prompt=none was used but consent has not been given
func ConsentRequired(desc string) *Error {
	return New(CodeConsentRequired, desc, http.StatusBadRequest)
}

// ServerError indicates an internal server error occurred
func ServerError(desc string) *Error {
	return New(CodeServerError, desc, http.StatusInternalServerError)
}

// InvalidClientMetadata indicates a client registration parameter is invalid (RFC 7591)
func InvalidClientMetadata(desc string) *Error {
	return New(CodeInvalidClientMetadata, desc, http.StatusBadRequest)
}

// InvalidRedirectURI indicates a redirect URI is invalid (RFC 7591)
func InvalidRedirectURI(desc string) *Error {
	return New(CodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

// RateLimitExceeded indicates the caller exceeded the configured request rate
func RateLimitExceeded(desc string) *Error {
	return New(CodeRateLimitExceeded, desc, http.StatusTooManyRequests)
}
