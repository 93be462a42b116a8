package authorizationendpoint

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/scope"
)

// AfterConsentNext continues the after-consent extension chain
type AfterConsentNext func(ctx context.Context, r *http.Request, auth *authorization.Authorization) error

// AfterConsentExtension runs once the flow is decided, before the response
// type issues credentials. Extensions may add response parameters or headers.
type AfterConsentExtension interface {
	Process(ctx context.Context, r *http.Request, auth *authorization.Authorization, next AfterConsentNext) error
}

func (e *Endpoint) afterConsent(index int) AfterConsentNext {
	if index >= len(e.extensions) {
		return func(context.Context, *http.Request, *authorization.Authorization) error { return nil }
	}
	return func(ctx context.Context, r *http.Request, auth *authorization.Authorization) error {
		return e.extensions[index].Process(ctx, r, auth, e.afterConsent(index+1))
	}
}

// ParamSessionState is the OpenID Connect Session Management response parameter
const ParamSessionState = "session_state"

// SessionStateParameterExtension adds session_state to successful OpenID
// Connect responses (OpenID Connect Session Management 1.0, section 3):
//
//	session_state = hex(SHA-256(client_id + " " + origin + " " + browser_state + " " + salt)) + "." + salt
type SessionStateParameterExtension struct {
	// BrowserState returns the opaque value the OP iframe can read, usually
	// a cookie. An empty value disables the parameter for the request.
	BrowserState func(r *http.Request) string
}

// Process implements AfterConsentExtension
func (e SessionStateParameterExtension) Process(ctx context.Context, r *http.Request, auth *authorization.Authorization, next AfterConsentNext) error {
	if auth.Decision() != authorization.Allowed || !scope.Contains(auth.ConsentedScopes(), scope.OpenID) || e.BrowserState == nil {
		return next(ctx, r, auth)
	}
	browserState := e.BrowserState(r)
	if browserState == "" {
		return next(ctx, r, auth)
	}

	origin, err := originOf(auth.RedirectURI())
	if err != nil {
		return err
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	auth.SetResponseParameter(ParamSessionState, SessionState(auth.Client().ID, origin, browserState, salt))
	return next(ctx, r, auth)
}

// SessionState computes a session_state value
func SessionState(clientID, origin, browserState, salt string) string {
	sum := sha256.Sum256([]byte(clientID + " " + origin + " " + browserState + " " + salt))
	return hex.EncodeToString(sum[:]) + "." + salt
}

func originOf(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
