package granttype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/pkce"
	"github.com/giantswarm/oauth2-engine/responsetype"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// codeLogPrefix is how much of a code is logged
const codeLogPrefix = 8

// invalidCode is the generic error for every failed code exchange (RFC 6749
// section 5.2). Details go to the logs only.
func invalidCode() error {
	return oautherr.InvalidGrant("The authorization code is invalid or has expired.")
}

// AuthorizationCodeConfig configures the authorization_code grant
type AuthorizationCodeConfig struct {
	Codes storage.AuthorizationCodeRepository
	PKCE  *pkce.Manager
	// Revocation revokes the tokens issued from a code when the code is
	// presented again. Optional.
	Revocation storage.TokenRevocationStore

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Now             func() time.Time
}

// AuthorizationCode exchanges a code issued by the authorization endpoint
// (RFC 6749 section 4.1.3, RFC 7636 section 4.6).
type AuthorizationCode struct {
	cfg AuthorizationCodeConfig
}

// NewAuthorizationCode creates the grant type
func NewAuthorizationCode(cfg AuthorizationCodeConfig) *AuthorizationCode {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PKCE == nil {
		cfg.PKCE = pkce.DefaultManager(false)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthorizationCode{cfg: cfg}
}

// Name implements GrantType
func (*AuthorizationCode) Name() string { return NameAuthorizationCode }

// AssociatedResponseTypes implements GrantType
func (*AuthorizationCode) AssociatedResponseTypes() []string {
	return []string{responsetype.NameCode}
}

// CheckRequest requires the code
func (*AuthorizationCode) CheckRequest(r *http.Request) error {
	return requireParameters(r, ParamCode)
}

// PrepareResponse checks that the code is usable by this client
func (g *AuthorizationCode) PrepareResponse(ctx context.Context, r *http.Request, data *Data) error {
	codeID := r.PostFormValue(ParamCode)
	code, err := g.cfg.Codes.FindAuthorizationCode(ctx, codeID)
	if err != nil {
		if storage.IsNotFound(err) {
			g.debug(ctx, codeID, data.Client.ID, "not_found")
			return invalidCode()
		}
		return fmt.Errorf("failed to load authorization code: %w", err)
	}

	if code.Used {
		g.reuseDetected(ctx, code)
		return invalidCode()
	}
	if code.ClientID != data.Client.ID {
		g.debug(ctx, codeID, data.Client.ID, "client_id_mismatch")
		return invalidCode()
	}
	if code.HasExpired(g.cfg.Now()) {
		g.debug(ctx, codeID, data.Client.ID, "expired")
		return invalidCode()
	}

	// redirect_uri is required if it was included in the authorization
	// request, and must then be identical (RFC 6749 section 4.1.3).
	if expected, ok := code.QueryParameters[ParamRedirectURI]; ok && expected != r.PostFormValue(ParamRedirectURI) {
		g.debug(ctx, codeID, data.Client.ID, "redirect_uri_mismatch")
		return oautherr.InvalidGrant("The parameter \"redirect_uri\" is missing or does not match the authorization request.")
	}

	verifier := r.PostFormValue(ParamCodeVerifier)
	if code.CodeChallenge != "" {
		if err := g.cfg.PKCE.Verify(code.CodeChallengeMethod, verifier, code.CodeChallenge); err != nil {
			g.cfg.Auditor.LogEvent(ctx, security.Event{
				Type:     security.EventPKCEValidationFailed,
				UserID:   code.ResourceOwnerID,
				ClientID: code.ClientID,
				Details:  map[string]any{"method": code.CodeChallengeMethod},
			})
			if g.cfg.Instrumentation != nil {
				g.cfg.Instrumentation.Metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			}
			return err
		}
	} else if verifier != "" {
		return oautherr.InvalidGrant("The parameter \"code_verifier\" was sent but no code challenge was used.")
	}

	scopes, err := scope.Narrow(code.Scopes, data.RequestedScopes)
	if err != nil {
		return err
	}

	data.ResourceOwnerID = code.ResourceOwnerID
	data.Scopes = scopes
	data.ScopesFromGrant = true
	data.AuthorizationCodeID = code.ID
	for k, v := range code.Metadata {
		data.Metadata[k] = v
	}
	return nil
}

// Grant marks the code used. A concurrent exchange of the same code loses
// here and is treated as reuse.
func (g *AuthorizationCode) Grant(ctx context.Context, r *http.Request, data *Data) error {
	code, err := g.cfg.Codes.AtomicCheckAndMarkAuthorizationCodeUsed(ctx, r.PostFormValue(ParamCode))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		if code != nil {
			g.reuseDetected(ctx, code)
		}
		return invalidCode()
	case storage.IsNotFound(err), errors.Is(err, storage.ErrTokenExpired):
		g.debug(ctx, r.PostFormValue(ParamCode), data.Client.ID, err.Error())
		return invalidCode()
	default:
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}
}

// reuseDetected revokes the tokens issued from a code presented twice,
// which indicates the code leaked (RFC 6749 section 4.1.2).
func (g *AuthorizationCode) reuseDetected(ctx context.Context, code *storage.AuthorizationCode) {
	revoked := 0
	if g.cfg.Revocation != nil {
		n, err := g.cfg.Revocation.RevokeTokensByAuthorizationCode(ctx, code.ID)
		if err != nil {
			g.cfg.Logger.ErrorContext(ctx, "Failed to revoke tokens after code reuse detection", "error", err)
		}
		revoked = n
	}

	g.cfg.Logger.ErrorContext(ctx, "Authorization code reuse detected - revoking tokens",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.ID, codeLogPrefix),
		"revoked_tokens", revoked)
	g.cfg.Auditor.LogCodeReuse(ctx, code.ResourceOwnerID, code.ClientID, revoked)
	if g.cfg.Instrumentation != nil {
		g.cfg.Instrumentation.Metrics().RecordCodeReuseDetected(ctx)
	}
}

func (g *AuthorizationCode) debug(ctx context.Context, codeID, clientID, reason string) {
	g.cfg.Logger.DebugContext(ctx, "Authorization code validation failed",
		"reason", reason,
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(codeID, codeLogPrefix))
}
