package responsetype

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/pkce"
	"github.com/giantswarm/oauth2-engine/storage"
)

// CodeConfig configures the code response type.
type CodeConfig struct {
	Codes storage.AuthorizationCodeRepository
	PKCE  *pkce.Manager
	// RequirePKCE requires a code_challenge from every client. Public clients
	// always need one.
	RequirePKCE bool
	Lifetime    time.Duration
	Now         func() time.Time
}

// Code issues authorization codes
type Code struct {
	codes       storage.AuthorizationCodeRepository
	pkce        *pkce.Manager
	requirePKCE bool
	lifetime    time.Duration
	now         func() time.Time
}

// NewCode creates the code response type
func NewCode(cfg CodeConfig) *Code {
	if cfg.PKCE == nil {
		cfg.PKCE = pkce.DefaultManager(false)
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultAuthorizationCodeLifetime
	}
	return &Code{
		codes:       cfg.Codes,
		pkce:        cfg.PKCE,
		requirePKCE: cfg.RequirePKCE,
		lifetime:    cfg.Lifetime,
		now:         clockOrDefault(cfg.Now),
	}
}

// Name implements authorization.ResponseType
func (*Code) Name() string { return NameCode }

// AssociatedGrantTypes implements authorization.ResponseType
func (*Code) AssociatedGrantTypes() []string { return []string{GrantTypeAuthorizationCode} }

// DefaultResponseMode implements authorization.ResponseType
func (*Code) DefaultResponseMode() string { return authorization.ResponseModeQuery }

// AllowedResponseModes implements authorization.ResponseType
func (*Code) AllowedResponseModes() []string { return allModes }

// CheckAuthorization validates the PKCE parameters
func (c *Code) CheckAuthorization(_ context.Context, auth *authorization.Authorization) error {
	challenge := auth.QueryParam(authorization.ParamCodeChallenge)
	method := auth.QueryParam(authorization.ParamCodeChallengeMethod)

	if challenge == "" {
		if method != "" {
			return oautherr.InvalidRequest("The parameter \"code_challenge\" is mandatory when \"code_challenge_method\" is set.")
		}
		if c.requirePKCE || (auth.Client() != nil && auth.Client().IsPublic()) {
			return oautherr.InvalidRequest("The parameter \"code_challenge\" is mandatory.")
		}
		return nil
	}

	if method == "" {
		method = pkce.MethodPlain
	}
	if !c.pkce.Has(method) {
		return oautherr.InvalidRequest(fmt.Sprintf("Unsupported \"code_challenge_method\" %q.", method))
	}
	return pkce.ValidateChallenge(challenge)
}

// Process creates and saves the authorization code
func (c *Code) Process(ctx context.Context, auth *authorization.Authorization) error {
	client := auth.Client()
	now := c.now()

	template := storage.AuthorizationCode{
		ClientID:            client.ID,
		Scopes:              auth.ConsentedScopes(),
		RedirectURI:         auth.QueryParam(authorization.ParamRedirectURI),
		CodeChallenge:       auth.QueryParam(authorization.ParamCodeChallenge),
		CodeChallengeMethod: auth.QueryParam(authorization.ParamCodeChallengeMethod),
		QueryParameters:     auth.Query().Strings(),
		Metadata:            map[string]any{},
		ExpiresAt:           now.Add(client.Lifetime(storage.ParamAuthCodeLifetime, c.lifetime)),
	}
	if template.CodeChallenge != "" && template.CodeChallengeMethod == "" {
		template.CodeChallengeMethod = pkce.MethodPlain
	}
	if user := auth.User(); user != nil {
		template.ResourceOwnerID = user.ID
	}
	if nonce := auth.QueryParam(authorization.ParamNonce); nonce != "" {
		template.Metadata[MetadataNonce] = nonce
	}
	if !auth.AuthTime().IsZero() {
		template.Metadata[MetadataAuthTime] = auth.AuthTime().Unix()
	}

	code, err := c.codes.CreateAuthorizationCode(ctx, template)
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}
	if err := c.codes.SaveAuthorizationCode(ctx, code); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	auth.SetResponseParameter("code", code.ID)
	return nil
}
