// Package tokenendpoint implements the OAuth2 token endpoint (RFC 6749
// section 3.2): client authentication, grant type dispatch, an extension
// chain around token issuance and the JSON token response.
package tokenendpoint

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/granttype"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/response"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Default token lifetimes
const (
	DefaultAccessTokenLifetime  = time.Hour
	DefaultRefreshTokenLifetime = 30 * 24 * time.Hour
)

// TokenTypeBearer is the only token type issued
const TokenTypeBearer = "Bearer"

// Config configures the token endpoint
type Config struct {
	Clients       storage.ClientRepository
	AccessTokens  storage.AccessTokenRepository
	RefreshTokens storage.RefreshTokenRepository
	AuthMethods   *authmethod.Manager
	GrantTypes    *granttype.Manager
	// Extensions run in order around token issuance.
	Extensions []Extension

	// AccessTokenLifetime and RefreshTokenLifetime apply unless the client
	// overrides them with access_token_lifetime / refresh_token_lifetime.
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Now             func() time.Time
}

// Endpoint is the token endpoint
type Endpoint struct {
	cfg        Config
	extensions []Extension
	tracer     trace.Tracer
}

// New creates the endpoint
func New(cfg Config) *Endpoint {
	if cfg.AccessTokenLifetime <= 0 {
		cfg.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if cfg.RefreshTokenLifetime <= 0 {
		cfg.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var tracer trace.Tracer = noop.NewTracerProvider().Tracer("tokenendpoint")
	if cfg.Instrumentation != nil {
		tracer = cfg.Instrumentation.Tracer("tokenendpoint")
	}
	return &Endpoint{cfg: cfg, extensions: cfg.Extensions, tracer: tracer}
}

// Handle processes a token request. On failure the error is an *oautherr.Error
// or an internal error; ErrorResponse renders either.
func (e *Endpoint) Handle(ctx context.Context, r *http.Request) (*response.Response, error) {
	ctx, span := e.tracer.Start(ctx, "tokenendpoint.Handle")
	defer span.End()

	grantType := r.PostFormValue(granttype.ParamGrantType)
	resp, err := e.handle(ctx, r, grantType)
	if e.cfg.Instrumentation != nil {
		e.cfg.Instrumentation.Metrics().RecordTokenRequest(ctx, grantType, err == nil)
	}
	if err != nil {
		oe := oautherr.From(err)
		instrumentation.AddOAuthErrorAttributes(span, oe.Code, oe.Description)
		instrumentation.RecordError(span, err)
		if oe.Code == oautherr.CodeServerError {
			e.cfg.Logger.ErrorContext(ctx, "Token request failed", "grant_type", grantType, "error", err)
		}
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (e *Endpoint) handle(ctx context.Context, r *http.Request, grantTypeName string) (*response.Response, error) {
	if r.Method != http.MethodPost {
		return nil, oautherr.InvalidRequest("The token endpoint only accepts POST requests.")
	}
	if err := r.ParseForm(); err != nil {
		return nil, oautherr.InvalidRequest("The request body could not be parsed.")
	}

	client, _, err := e.cfg.AuthMethods.Authenticate(ctx, r, e.cfg.Clients)
	if err != nil {
		return nil, err
	}

	if grantTypeName == "" {
		return nil, oautherr.InvalidRequest("The parameter \"grant_type\" is missing.")
	}
	grantType, ok := e.cfg.GrantTypes.Get(grantTypeName)
	if !ok {
		return nil, oautherr.UnsupportedGrantType(fmt.Sprintf("The grant type %q is not supported by this server.", grantTypeName))
	}
	if !client.IsGrantTypeAllowed(grantTypeName) {
		return nil, oautherr.UnauthorizedClient(fmt.Sprintf("The grant type %q is unauthorized for this client.", grantTypeName))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("oauth.client_id", client.ID),
		attribute.String("oauth.grant_type", grantTypeName),
	)

	if err := grantType.CheckRequest(r); err != nil {
		return nil, err
	}

	data := granttype.NewData(grantTypeName, client)
	data.RequestedScopes = scope.Parse(r.PostFormValue(granttype.ParamScope))
	if err := grantType.PrepareResponse(ctx, r, data); err != nil {
		return nil, err
	}
	if err := e.before(0)(ctx, r, data); err != nil {
		return nil, err
	}
	issued, err := e.mint(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := e.after(0)(ctx, r, data, issued); err != nil {
		return nil, err
	}
	// Grant consumes the code or refresh token; nothing is persisted before it
	// succeeds, and nothing is consumed if the response cannot be completed.
	if err := grantType.Grant(ctx, r, data); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, issued); err != nil {
		return nil, err
	}

	e.cfg.Auditor.LogTokenIssued(ctx, data.ResourceOwnerID, client.ID, grantTypeName, scope.Format(data.Scopes))
	if e.cfg.Instrumentation != nil {
		m := e.cfg.Instrumentation.Metrics()
		m.RecordTokenIssued(ctx, client.ID, "access_token", grantTypeName)
		if issued.RefreshToken != nil {
			m.RecordTokenIssued(ctx, client.ID, "refresh_token", grantTypeName)
		}
	}
	return response.JSON(http.StatusOK, issued.Parameters)
}

// mint creates the access token and, when requested, a refresh token. They
// are only saved by persist.
func (e *Endpoint) mint(ctx context.Context, data *granttype.Data) (*Issued, error) {
	now := e.cfg.Now()
	client := data.Client
	issued := &Issued{Parameters: map[string]any{}}

	if data.IssueRefreshToken {
		if e.cfg.RefreshTokens == nil {
			return nil, fmt.Errorf("refresh token requested but no refresh token repository configured")
		}
		rt, err := e.cfg.RefreshTokens.CreateRefreshToken(ctx, storage.RefreshToken{
			ClientID:            client.ID,
			ResourceOwnerID:     data.ResourceOwnerID,
			Scopes:              data.Scopes,
			Metadata:            data.Metadata,
			IssuedAt:            now,
			ExpiresAt:           now.Add(client.Lifetime(storage.ParamRefreshTokenLifetime, e.cfg.RefreshTokenLifetime)),
			AuthorizationCodeID: data.AuthorizationCodeID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create refresh token: %w", err)
		}
		issued.RefreshToken = rt
	}

	lifetime := client.Lifetime(storage.ParamAccessTokenLifetime, e.cfg.AccessTokenLifetime)
	template := storage.AccessToken{
		ClientID:            client.ID,
		ResourceOwnerID:     data.ResourceOwnerID,
		Scopes:              data.Scopes,
		Metadata:            data.Metadata,
		IssuedAt:            now,
		ExpiresAt:           now.Add(lifetime),
		AuthorizationCodeID: data.AuthorizationCodeID,
	}
	if issued.RefreshToken != nil {
		template.RefreshTokenID = issued.RefreshToken.ID
	}
	at, err := e.cfg.AccessTokens.CreateAccessToken(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	issued.AccessToken = at

	for k, v := range data.Parameters {
		issued.Parameters[k] = v
	}
	issued.Parameters["access_token"] = at.ID
	issued.Parameters["token_type"] = TokenTypeBearer
	issued.Parameters["expires_in"] = int64(lifetime / time.Second)
	if len(data.Scopes) > 0 {
		issued.Parameters["scope"] = scope.Format(data.Scopes)
	}
	if issued.RefreshToken != nil {
		issued.Parameters["refresh_token"] = issued.RefreshToken.ID
	}
	return issued, nil
}

// persist saves the minted tokens. A refresh token saved before a failing
// access token save is revoked again.
func (e *Endpoint) persist(ctx context.Context, issued *Issued) error {
	if rt := issued.RefreshToken; rt != nil {
		if err := e.cfg.RefreshTokens.SaveRefreshToken(ctx, rt); err != nil {
			return fmt.Errorf("failed to save refresh token: %w", err)
		}
	}
	if err := e.cfg.AccessTokens.SaveAccessToken(ctx, issued.AccessToken); err != nil {
		if rt := issued.RefreshToken; rt != nil {
			if _, revokeErr := e.cfg.RefreshTokens.AtomicRevokeRefreshToken(ctx, rt.ID); revokeErr != nil {
				e.cfg.Logger.ErrorContext(ctx, "Failed to revoke refresh token of an aborted response",
					"client_id", rt.ClientID, "error", revokeErr)
			}
		}
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// ErrorResponse renders err. A 401 invalid_client carries the
// WWW-Authenticate challenges of the configured authentication methods.
func (e *Endpoint) ErrorResponse(err error) *response.Response {
	resp := response.Error(err)
	if resp.Status == http.StatusUnauthorized {
		if schemes := e.cfg.AuthMethods.SchemesParameters(); len(schemes) > 0 {
			resp.Header.Set("WWW-Authenticate", strings.Join(schemes, ", "))
		}
	}
	return resp
}

// GrantTypes returns the grant type registry
func (e *Endpoint) GrantTypes() *granttype.Manager {
	return e.cfg.GrantTypes
}
