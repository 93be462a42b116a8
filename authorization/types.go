package authorization

import (
	"context"
	"net/http"

	"github.com/giantswarm/oauth2-engine/response"
)

// Response mode names
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// Prompt values (OpenID Connect Core 3.1.2.1)
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// Request parameter names read by the checkers
const (
	ParamResponseType = "response_type"
	ParamResponseMode = "response_mode"
	ParamRedirectURI  = "redirect_uri"
	ParamState        = "state"
	ParamScope        = "scope"
	ParamPrompt       = "prompt"
	ParamDisplay      = "display"
	ParamNonce        = "nonce"
	ParamMaxAge       = "max_age"
	ParamClientID     = "client_id"

	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
)

// ResponseType issues the credentials of one response_type value.
type ResponseType interface {
	// Name is the response_type value, tokens sorted ("code id_token").
	Name() string

	// AssociatedGrantTypes lists the grant types a client must declare
	// to use this response type.
	AssociatedGrantTypes() []string

	// DefaultResponseMode is used when the request has no response_mode.
	DefaultResponseMode() string

	// AllowedResponseModes lists the modes this type may be delivered with.
	AllowedResponseModes() []string

	// CheckAuthorization validates type-specific request parameters.
	CheckAuthorization(ctx context.Context, auth *Authorization) error

	// Process issues the credentials of an allowed authorization by adding
	// response parameters.
	Process(ctx context.Context, auth *Authorization) error
}

// ResponseMode serializes the outcome of a flow into a transport response.
type ResponseMode interface {
	Name() string

	// BuildResponse delivers params to redirectURI.
	BuildResponse(redirectURI string, params map[string]string, headers http.Header) (*response.Response, error)
}

// ResponseTypeRegistry resolves response types by name.
type ResponseTypeRegistry interface {
	Get(name string) (ResponseType, bool)
	Names() []string
}

// ResponseModeRegistry resolves response modes by name.
type ResponseModeRegistry interface {
	Get(name string) (ResponseMode, bool)
	Names() []string
}

// IsResponseModeAllowed reports whether rt may be delivered with mode
func IsResponseModeAllowed(rt ResponseType, mode string) bool {
	for _, m := range rt.AllowedResponseModes() {
		if m == mode {
			return true
		}
	}
	return false
}
