package authorization

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ParameterChecker validates one aspect of an authorization request. It may
// record resolved values on the Authorization.
type ParameterChecker interface {
	Check(ctx context.Context, auth *Authorization) error
}

// ParameterCheckerManager runs checkers in a fixed order and stops at the
// first failure.
type ParameterCheckerManager struct {
	checkers []ParameterChecker
}

// NewParameterCheckerManager creates a manager over checkers, in order
func NewParameterCheckerManager(checkers ...ParameterChecker) *ParameterCheckerManager {
	return &ParameterCheckerManager{checkers: checkers}
}

// CheckerConfig configures DefaultParameterCheckerManager.
type CheckerConfig struct {
	ResponseTypes ResponseTypeRegistry
	ResponseModes ResponseModeRegistry
	// AllowResponseModeParameter lets requests pick any response mode the
	// response type supports instead of only its default one.
	AllowResponseModeParameter bool
	// Scopes resolves the scope parameter. Nil keeps the requested scopes.
	Scopes *scope.Manager
}

// DefaultParameterCheckerManager returns the standard checker order: display,
// prompt, redirect_uri, response_type, response_mode, state, nonce, scope.
func DefaultParameterCheckerManager(cfg CheckerConfig) *ParameterCheckerManager {
	return NewParameterCheckerManager(
		DisplayParameterChecker{},
		PromptParameterChecker{},
		RedirectURIParameterChecker{},
		ResponseTypeParameterChecker{Registry: cfg.ResponseTypes},
		ResponseModeParameterChecker{Registry: cfg.ResponseModes, AllowParameter: cfg.AllowResponseModeParameter},
		StateParameterChecker{},
		NonceParameterChecker{},
		ScopeParameterChecker{Manager: cfg.Scopes},
	)
}

// Process runs every checker against auth
func (m *ParameterCheckerManager) Process(ctx context.Context, auth *Authorization) error {
	for _, c := range m.checkers {
		if err := c.Check(ctx, auth); err != nil {
			return err
		}
	}
	return nil
}

var displayValues = []string{"page", "popup", "touch", "wap"}

// DisplayParameterChecker validates the OpenID Connect display parameter
type DisplayParameterChecker struct{}

// Check implements ParameterChecker
func (DisplayParameterChecker) Check(_ context.Context, auth *Authorization) error {
	display := auth.QueryParam(ParamDisplay)
	if display == "" || contains(displayValues, display) {
		return nil
	}
	return oautherr.InvalidRequest(fmt.Sprintf("Invalid parameter \"display\". Allowed values are %s.", quoteList(displayValues)))
}

var promptValues = []string{PromptNone, PromptLogin, PromptConsent, PromptSelectAccount}

// PromptParameterChecker validates prompt and max_age
type PromptParameterChecker struct{}

// Check implements ParameterChecker
func (PromptParameterChecker) Check(_ context.Context, auth *Authorization) error {
	prompt := auth.Prompt()
	for _, p := range prompt {
		if !contains(promptValues, p) {
			return oautherr.InvalidRequest(fmt.Sprintf("Invalid parameter \"prompt\". Allowed values are %s.", quoteList(promptValues)))
		}
	}
	if contains(prompt, PromptNone) && len(prompt) != 1 {
		return oautherr.InvalidRequest("Invalid parameter \"prompt\". Prompt value \"none\" must be used alone.")
	}

	if maxAge := auth.QueryParam(ParamMaxAge); maxAge != "" {
		if n, err := strconv.Atoi(maxAge); err != nil || n < 0 {
			return oautherr.InvalidRequest("Invalid parameter \"max_age\". It must be a non-negative integer.")
		}
	}
	return nil
}

// RedirectURIParameterChecker validates redirect_uri and marks it trusted
type RedirectURIParameterChecker struct{}

// Check implements ParameterChecker
func (RedirectURIParameterChecker) Check(_ context.Context, auth *Authorization) error {
	raw := auth.QueryParam(ParamRedirectURI)
	if raw == "" {
		return oautherr.InvalidRequest("The parameter \"redirect_uri\" is mandatory.")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return oautherr.InvalidRequest("The parameter \"redirect_uri\" must be an absolute URI.")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return oautherr.InvalidRequest("The parameter \"redirect_uri\" must not contain a fragment.")
	}
	client := auth.Client()
	if client != nil && len(client.RedirectURIs()) > 0 && !client.HasRedirectURI(raw) {
		return oautherr.InvalidRequest("The specified redirect URI is not valid.")
	}
	auth.SetRedirectURI(raw)
	return nil
}

// ResponseTypeParameterChecker resolves response_type through the registry.
// Unlike the other checkers it does not always fail with invalid_request: a
// missing parameter does, a type the server does not know fails with
// unsupported_response_type, and a type the client did not register fails
// with unauthorized_client (RFC 6749 section 4.1.2.1).
type ResponseTypeParameterChecker struct {
	Registry ResponseTypeRegistry
}

// Check implements ParameterChecker
func (c ResponseTypeParameterChecker) Check(ctx context.Context, auth *Authorization) error {
	raw := auth.QueryParam(ParamResponseType)
	if raw == "" {
		return oautherr.InvalidRequest("The parameter \"response_type\" is mandatory.")
	}
	name := storage.NormalizeResponseType(raw)

	rt, ok := c.Registry.Get(name)
	if !ok {
		return oautherr.UnsupportedResponseType(fmt.Sprintf("Response type %q is not supported by this server. Supported response types are %s.", raw, quoteList(c.Registry.Names())))
	}
	if client := auth.Client(); client != nil && !client.IsResponseTypeAllowed(name) {
		return oautherr.UnauthorizedClient(fmt.Sprintf("The response type %q is not allowed for this client.", raw))
	}
	if err := rt.CheckAuthorization(ctx, auth); err != nil {
		return err
	}
	auth.SetResponseType(rt)
	return nil
}

// ResponseModeParameterChecker resolves response_mode. Without
// AllowParameter only the response type's default mode is accepted.
type ResponseModeParameterChecker struct {
	Registry       ResponseModeRegistry
	AllowParameter bool
}

// Check implements ParameterChecker
func (c ResponseModeParameterChecker) Check(_ context.Context, auth *Authorization) error {
	rt := auth.ResponseType()
	if rt == nil {
		return oautherr.ServerError("The response type must be resolved before the response mode.")
	}

	name := auth.QueryParam(ParamResponseMode)
	if name == "" {
		name = rt.DefaultResponseMode()
	}

	mode, ok := c.Registry.Get(name)
	if !ok {
		return oautherr.InvalidRequest(fmt.Sprintf("Unsupported response mode %q. Supported response modes are %s.", name, quoteList(c.Registry.Names())))
	}
	if name != rt.DefaultResponseMode() {
		if !c.AllowParameter {
			return oautherr.InvalidRequest("The parameter \"response_mode\" is not allowed.")
		}
		if !IsResponseModeAllowed(rt, name) {
			return oautherr.InvalidRequest(fmt.Sprintf("The response mode %q is not allowed for the response type %q.", name, rt.Name()))
		}
	}
	auth.SetResponseMode(mode)
	return nil
}

// StateParameterChecker echoes state into the response
type StateParameterChecker struct{}

// Check implements ParameterChecker
func (StateParameterChecker) Check(_ context.Context, auth *Authorization) error {
	if state := auth.QueryParam(ParamState); state != "" {
		auth.SetResponseParameter(ParamState, state)
	}
	return nil
}

// NonceParameterChecker requires nonce when an id_token is returned from the
// authorization endpoint (OpenID Connect Core 3.2.2.1, 3.3.2.11).
type NonceParameterChecker struct{}

// Check implements ParameterChecker
func (NonceParameterChecker) Check(_ context.Context, auth *Authorization) error {
	rt := auth.ResponseType()
	if rt == nil || !contains(strings.Fields(rt.Name()), "id_token") {
		return nil
	}
	if auth.QueryParam(ParamNonce) == "" {
		return oautherr.InvalidRequest("The parameter \"nonce\" is mandatory when an ID token is requested from the authorization endpoint.")
	}
	return nil
}

// ScopeParameterChecker resolves scope through the scope policy
type ScopeParameterChecker struct {
	Manager *scope.Manager
}

// Check implements ParameterChecker
func (c ScopeParameterChecker) Check(ctx context.Context, auth *Authorization) error {
	requested := scope.Parse(auth.QueryParam(ParamScope))
	if c.Manager == nil {
		auth.SetScopes(requested)
		return nil
	}
	resolved, err := c.Manager.Resolve(ctx, auth.Client(), requested)
	if err != nil {
		return err
	}
	auth.SetScopes(resolved)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ", ")
}
