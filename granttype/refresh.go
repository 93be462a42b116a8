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
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// RefreshTokenConfig configures the refresh_token grant
type RefreshTokenConfig struct {
	Tokens storage.RefreshTokenRepository
	// Rotation revokes the presented refresh token and issues a new one.
	Rotation bool
	// Revocation revokes the whole token family when a rotated token is
	// presented again. Optional.
	Revocation storage.TokenRevocationStore

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Now             func() time.Time
}

// RefreshToken issues new access tokens from a refresh token (RFC 6749
// section 6). Requested scopes can only narrow the original grant.
type RefreshToken struct {
	cfg RefreshTokenConfig
}

// NewRefreshToken creates the grant type
func NewRefreshToken(cfg RefreshTokenConfig) *RefreshToken {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RefreshToken{cfg: cfg}
}

func invalidRefreshToken() error {
	return oautherr.InvalidGrant("The refresh token is invalid or has expired.")
}

// Name implements GrantType
func (*RefreshToken) Name() string { return NameRefreshToken }

// AssociatedResponseTypes implements GrantType
func (*RefreshToken) AssociatedResponseTypes() []string { return nil }

// CheckRequest requires the refresh token
func (*RefreshToken) CheckRequest(r *http.Request) error {
	return requireParameters(r, ParamRefreshToken)
}

// PrepareResponse checks that the refresh token is active and bound to the client
func (g *RefreshToken) PrepareResponse(ctx context.Context, r *http.Request, data *Data) error {
	tokenID := r.PostFormValue(ParamRefreshToken)
	token, err := g.cfg.Tokens.FindRefreshToken(ctx, tokenID)
	if err != nil {
		if storage.IsNotFound(err) {
			return invalidRefreshToken()
		}
		return fmt.Errorf("failed to load refresh token: %w", err)
	}

	switch {
	case token.ClientID != data.Client.ID:
		g.cfg.Logger.DebugContext(ctx, "Refresh token validation failed",
			"reason", "client_id_mismatch",
			"client_id", data.Client.ID)
		return invalidRefreshToken()
	case token.Revoked:
		g.reuseDetected(ctx, token)
		return invalidRefreshToken()
	case token.HasExpired(g.cfg.Now()):
		return invalidRefreshToken()
	}

	scopes, err := scope.Narrow(token.Scopes, data.RequestedScopes)
	if err != nil {
		return err
	}

	data.ResourceOwnerID = token.ResourceOwnerID
	data.Scopes = scopes
	data.ScopesFromGrant = true
	data.AuthorizationCodeID = token.AuthorizationCodeID
	for k, v := range token.Metadata {
		data.Metadata[k] = v
	}
	data.IssueRefreshToken = g.cfg.Rotation
	data.RefreshTokenDecided = true
	return nil
}

// Grant revokes the presented token when rotation is enabled. The atomic
// revocation makes a concurrent refresh with the same token fail.
func (g *RefreshToken) Grant(ctx context.Context, r *http.Request, _ *Data) error {
	if !g.cfg.Rotation {
		return nil
	}
	token, err := g.cfg.Tokens.AtomicRevokeRefreshToken(ctx, r.PostFormValue(ParamRefreshToken))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrTokenRevoked):
		if token != nil {
			g.reuseDetected(ctx, token)
		}
		return invalidRefreshToken()
	case storage.IsNotFound(err), errors.Is(err, storage.ErrTokenExpired):
		return invalidRefreshToken()
	default:
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
}

func (g *RefreshToken) reuseDetected(ctx context.Context, token *storage.RefreshToken) {
	revoked := 0
	if g.cfg.Revocation != nil && token.AuthorizationCodeID != "" {
		n, err := g.cfg.Revocation.RevokeTokensByAuthorizationCode(ctx, token.AuthorizationCodeID)
		if err != nil {
			g.cfg.Logger.ErrorContext(ctx, "Failed to revoke token family after refresh token reuse", "error", err)
		}
		revoked = n
	}

	g.cfg.Logger.ErrorContext(ctx, "Refresh token reuse detected",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.ID, codeLogPrefix),
		"revoked_tokens", revoked)
	g.cfg.Auditor.LogEvent(ctx, security.Event{
		Type:     security.EventRefreshTokenReuse,
		UserID:   token.ResourceOwnerID,
		ClientID: token.ClientID,
		Details:  map[string]any{"revoked_tokens": revoked},
	})
	if g.cfg.Instrumentation != nil {
		g.cfg.Instrumentation.Metrics().RecordTokenReuseDetected(ctx)
	}
}
