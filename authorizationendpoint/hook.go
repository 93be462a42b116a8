package authorizationendpoint

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/response"
	"github.com/giantswarm/oauth2-engine/storage"
)

// HookNext continues the hook chain. At the end of the chain it returns a
// nil response: the flow is ready to be finished.
type HookNext func(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization) (*response.Response, error)

// Hook is one step between parameter checking and the final response. It
// either calls next or stops the flow with a response (usually a redirect to
// the login, account selection or consent UI).
type Hook interface {
	Handle(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization, next HookNext) (*response.Response, error)
}

// prompter is implemented by hooks that redirect to a UI, for metrics.
type prompter interface {
	Prompt() string
}

// LoginHandler renders or redirects to the login UI for flowID
type LoginHandler interface {
	Handle(ctx context.Context, r *http.Request, flowID string) (*response.Response, error)
}

// SelectAccountHandler renders or redirects to the account selection UI
type SelectAccountHandler interface {
	Handle(ctx context.Context, r *http.Request, flowID string) (*response.Response, error)
}

// ConsentHandler renders or redirects to the consent UI
type ConsentHandler interface {
	Handle(ctx context.Context, r *http.Request, flowID string) (*response.Response, error)
}

// RedirectHandler sends the browser to a UI page, passing the flow ID as the
// authorization_id query parameter. It serves as LoginHandler,
// SelectAccountHandler and ConsentHandler.
type RedirectHandler struct {
	target *url.URL
}

// NewRedirectHandler creates a handler redirecting to target
func NewRedirectHandler(target string) (*RedirectHandler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid UI URL %q: %w", target, err)
	}
	return &RedirectHandler{target: u}, nil
}

// Handle implements LoginHandler, SelectAccountHandler and ConsentHandler
func (h *RedirectHandler) Handle(_ context.Context, _ *http.Request, flowID string) (*response.Response, error) {
	u := *h.target
	q := u.Query()
	q.Set(ParamAuthorizationID, flowID)
	u.RawQuery = q.Encode()
	return response.Redirect(u.String()), nil
}

// NonePrompt enforces prompt=none: no UI may be shown, so a missing user or
// missing prior consent ends the flow with an error.
type NonePrompt struct {
	// Consents is optional; without it prompt=none always fails with consent_required.
	Consents storage.ConsentRepository
}

// Handle implements Hook
func (h NonePrompt) Handle(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization, next HookNext) (*response.Response, error) {
	if !auth.HasPrompt(authorization.PromptNone) {
		return next(ctx, r, flowID, auth)
	}

	user := auth.User()
	if user == nil {
		return nil, oautherr.LoginRequired("The resource owner is not authenticated.")
	}
	if !auth.IsDecided() {
		granted, err := hasConsent(ctx, h.Consents, user.ID, auth)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, oautherr.ConsentRequired("The resource owner has not granted consent to this client.")
		}
		if err := auth.Allow(nil); err != nil {
			return nil, err
		}
	}
	return next(ctx, r, flowID, auth)
}

// SelectAccountPrompt shows the account selection UI for
// prompt=select_account until the UI marks the account as selected.
type SelectAccountPrompt struct {
	Handler SelectAccountHandler
}

// Prompt implements prompter
func (SelectAccountPrompt) Prompt() string { return authorization.PromptSelectAccount }

// Handle implements Hook
func (h SelectAccountPrompt) Handle(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization, next HookNext) (*response.Response, error) {
	if !auth.HasPrompt(authorization.PromptSelectAccount) || auth.Attribute(authorization.AttributeAccountSelected) {
		return next(ctx, r, flowID, auth)
	}
	if auth.HasPrompt(authorization.PromptNone) {
		return nil, oautherr.New(oautherr.CodeAccountSelectionNeeded, "The resource owner must select an account.", http.StatusBadRequest)
	}
	return h.Handler.Handle(ctx, r, flowID)
}

// LoginPrompt shows the login UI when there is no authenticated user, when
// prompt=login asks for a fresh authentication, or when the last
// authentication is older than max_age.
type LoginPrompt struct {
	Handler LoginHandler
	Now     func() time.Time
}

// Prompt implements prompter
func (LoginPrompt) Prompt() string { return authorization.PromptLogin }

// Handle implements Hook
func (h LoginPrompt) Handle(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization, next HookNext) (*response.Response, error) {
	needsLogin, err := h.needsLogin(auth)
	if err != nil {
		return nil, err
	}
	if !needsLogin {
		return next(ctx, r, flowID, auth)
	}
	if auth.HasPrompt(authorization.PromptNone) {
		return nil, oautherr.LoginRequired("The resource owner must authenticate again.")
	}
	return h.Handler.Handle(ctx, r, flowID)
}

func (h LoginPrompt) needsLogin(auth *authorization.Authorization) (bool, error) {
	if auth.User() == nil {
		return true, nil
	}
	// authenticated during this flow: neither prompt=login nor max_age can ask again
	if auth.Attribute(authorization.AttributeUserAuthenticated) {
		return false, nil
	}
	if auth.HasPrompt(authorization.PromptLogin) {
		return true, nil
	}
	// an account picked in the UI carries no authentication yet
	if auth.AuthTime().IsZero() {
		return true, nil
	}

	raw := auth.QueryParam(authorization.ParamMaxAge)
	if raw == "" {
		return false, nil
	}
	maxAge, err := strconv.Atoi(raw)
	if err != nil || maxAge < 0 {
		return false, oautherr.InvalidRequest("The parameter \"max_age\" must be a non-negative integer.")
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return now().After(auth.AuthTime().Add(time.Duration(maxAge) * time.Second)), nil
}

// ConsentPrompt shows the consent UI while the flow is undecided. A user who
// already granted the requested scopes is not asked again unless
// prompt=consent.
type ConsentPrompt struct {
	Handler  ConsentHandler
	Consents storage.ConsentRepository
}

// Prompt implements prompter
func (ConsentPrompt) Prompt() string { return authorization.PromptConsent }

// Handle implements Hook
func (h ConsentPrompt) Handle(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization, next HookNext) (*response.Response, error) {
	if auth.IsDecided() {
		return next(ctx, r, flowID, auth)
	}
	if user := auth.User(); user != nil && !auth.HasPrompt(authorization.PromptConsent) {
		granted, err := hasConsent(ctx, h.Consents, user.ID, auth)
		if err != nil {
			return nil, err
		}
		if granted {
			if err := auth.Allow(nil); err != nil {
				return nil, err
			}
			return next(ctx, r, flowID, auth)
		}
	}
	return h.Handler.Handle(ctx, r, flowID)
}

func hasConsent(ctx context.Context, consents storage.ConsentRepository, userID string, auth *authorization.Authorization) (bool, error) {
	if consents == nil {
		return false, nil
	}
	granted, err := consents.HasConsent(ctx, userID, auth.Client().ID, auth.Scopes())
	if err != nil {
		return false, fmt.Errorf("failed to look up consent: %w", err)
	}
	return granted, nil
}

// DefaultHooks returns the standard hook order: prompt=none, account
// selection, login, consent.
func DefaultHooks(login LoginHandler, selectAccount SelectAccountHandler, consent ConsentHandler, consents storage.ConsentRepository, now func() time.Time) []Hook {
	return []Hook{
		NonePrompt{Consents: consents},
		SelectAccountPrompt{Handler: selectAccount},
		LoginPrompt{Handler: login, Now: now},
		ConsentPrompt{Handler: consent, Consents: consents},
	}
}
