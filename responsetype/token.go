package responsetype

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/idtoken"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// TokenConfig configures the token response type.
type TokenConfig struct {
	AccessTokens storage.AccessTokenRepository
	Lifetime     time.Duration
	Now          func() time.Time
}

// Token issues access tokens directly from the authorization endpoint
type Token struct {
	tokens   storage.AccessTokenRepository
	lifetime time.Duration
	now      func() time.Time
}

// NewToken creates the token response type
func NewToken(cfg TokenConfig) *Token {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultAccessTokenLifetime
	}
	return &Token{tokens: cfg.AccessTokens, lifetime: cfg.Lifetime, now: clockOrDefault(cfg.Now)}
}

// Name implements authorization.ResponseType
func (*Token) Name() string { return NameToken }

// AssociatedGrantTypes implements authorization.ResponseType
func (*Token) AssociatedGrantTypes() []string { return []string{GrantTypeImplicit} }

// DefaultResponseMode implements authorization.ResponseType
func (*Token) DefaultResponseMode() string { return authorization.ResponseModeFragment }

// AllowedResponseModes implements authorization.ResponseType
func (*Token) AllowedResponseModes() []string { return fragmentModes }

// CheckAuthorization implements authorization.ResponseType
func (*Token) CheckAuthorization(context.Context, *authorization.Authorization) error { return nil }

// Process creates and saves an access token
func (t *Token) Process(ctx context.Context, auth *authorization.Authorization) error {
	client := auth.Client()
	lifetime := client.Lifetime(storage.ParamAccessTokenLifetime, t.lifetime)

	template := storage.AccessToken{
		ClientID:  client.ID,
		Scopes:    auth.ConsentedScopes(),
		Metadata:  map[string]any{},
		ExpiresAt: t.now().Add(lifetime),
	}
	if user := auth.User(); user != nil {
		template.ResourceOwnerID = user.ID
	}

	token, err := t.tokens.CreateAccessToken(ctx, template)
	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}
	if err := t.tokens.SaveAccessToken(ctx, token); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	auth.SetResponseParameter("access_token", token.ID)
	auth.SetResponseParameter("token_type", "Bearer")
	auth.SetResponseParameter("expires_in", strconv.FormatInt(int64(lifetime/time.Second), 10))
	if len(token.Scopes) > 0 {
		auth.SetResponseParameter("scope", strings.Join(token.Scopes, " "))
	}
	return nil
}

// IDToken issues an ID token from the authorization endpoint
type IDToken struct {
	builder IDTokenBuilder
}

// NewIDToken creates the id_token response type
func NewIDToken(builder IDTokenBuilder) *IDToken {
	return &IDToken{builder: builder}
}

// Name implements authorization.ResponseType
func (*IDToken) Name() string { return NameIDToken }

// AssociatedGrantTypes implements authorization.ResponseType
func (*IDToken) AssociatedGrantTypes() []string { return []string{GrantTypeImplicit} }

// DefaultResponseMode implements authorization.ResponseType
func (*IDToken) DefaultResponseMode() string { return authorization.ResponseModeFragment }

// AllowedResponseModes implements authorization.ResponseType
func (*IDToken) AllowedResponseModes() []string { return fragmentModes }

// CheckAuthorization requires the openid scope
func (*IDToken) CheckAuthorization(_ context.Context, auth *authorization.Authorization) error {
	if !hasToken(auth.QueryParam(authorization.ParamScope), "openid") {
		return oautherr.InvalidRequest("The response type \"id_token\" requires the scope \"openid\".")
	}
	return nil
}

// Process signs an ID token bound to the code and access token issued in the
// same response.
func (i *IDToken) Process(_ context.Context, auth *authorization.Authorization) error {
	user := auth.User()
	if user == nil {
		return oautherr.ServerError("An ID token requires an authenticated user.")
	}
	token, err := i.builder.Build(idtoken.Params{
		ClientID:    auth.Client().ID,
		Subject:     user.ID,
		Nonce:       auth.QueryParam(authorization.ParamNonce),
		AuthTime:    auth.AuthTime(),
		AccessToken: auth.ResponseParameter("access_token"),
		Code:        auth.ResponseParameter("code"),
		Claims:      user.Claims,
	})
	if err != nil {
		return fmt.Errorf("failed to build id token: %w", err)
	}
	auth.SetResponseParameter("id_token", token)
	return nil
}

// None issues nothing (OAuth 2.0 Multiple Response Types, section 4)
type None struct{}

// Name implements authorization.ResponseType
func (None) Name() string { return NameNone }

// AssociatedGrantTypes implements authorization.ResponseType
func (None) AssociatedGrantTypes() []string { return nil }

// DefaultResponseMode implements authorization.ResponseType
func (None) DefaultResponseMode() string { return authorization.ResponseModeQuery }

// AllowedResponseModes implements authorization.ResponseType
func (None) AllowedResponseModes() []string { return allModes }

// CheckAuthorization implements authorization.ResponseType
func (None) CheckAuthorization(context.Context, *authorization.Authorization) error { return nil }

// Process implements authorization.ResponseType
func (None) Process(context.Context, *authorization.Authorization) error { return nil }
