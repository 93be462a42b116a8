package oauth

import "github.com/giantswarm/oauth2-engine/oautherr"

// OAuthError represents an OAuth 2.0 error response
type OAuthError = oautherr.Error

// OAuth error codes
const (
	ErrorCodeInvalidRequest          = oautherr.CodeInvalidRequest
	ErrorCodeInvalidClient           = oautherr.CodeInvalidClient
	ErrorCodeInvalidGrant            = oautherr.CodeInvalidGrant
	ErrorCodeInvalidScope            = oautherr.CodeInvalidScope
	ErrorCodeUnauthorizedClient      = oautherr.CodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = oautherr.CodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = oautherr.CodeUnsupportedResponseType
	ErrorCodeAccessDenied            = oautherr.CodeAccessDenied
	ErrorCodeLoginRequired           = oautherr.CodeLoginRequired
	ErrorCodeConsentRequired         = oautherr.CodeConsentRequired
	ErrorCodeServerError             = oautherr.CodeServerError
	ErrorCodeInvalidClientMetadata   = oautherr.CodeInvalidClientMetadata
	ErrorCodeInvalidRedirectURI      = oautherr.CodeInvalidRedirectURI
	ErrorCodeRateLimitExceeded       = oautherr.CodeRateLimitExceeded
)

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return oautherr.New(code, description, status)
}

// Common OAuth errors
var (
	ErrInvalidRequest       = oautherr.InvalidRequest
	ErrInvalidClient        = oautherr.InvalidClient
	ErrInvalidGrant         = oautherr.InvalidGrant
	ErrInvalidScope         = oautherr.InvalidScope
	ErrUnauthorizedClient   = oautherr.UnauthorizedClient
	ErrUnsupportedGrantType = oautherr.UnsupportedGrantType
	ErrAccessDenied         = oautherr.AccessDenied
	ErrServerError          = oautherr.ServerError
	ErrInvalidRedirectURI   = oautherr.InvalidRedirectURI
)
