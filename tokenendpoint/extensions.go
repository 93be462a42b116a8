package tokenendpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/giantswarm/oauth2-engine/granttype"
	"github.com/giantswarm/oauth2-engine/idtoken"
	"github.com/giantswarm/oauth2-engine/responsetype"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ScopePolicyExtension resolves the scopes of grants that do not inherit
// them from an earlier grant, applying the server's scope policy.
type ScopePolicyExtension struct {
	PassThrough
	scopes *scope.Manager
}

// NewScopePolicyExtension creates the extension
func NewScopePolicyExtension(scopes *scope.Manager) *ScopePolicyExtension {
	return &ScopePolicyExtension{scopes: scopes}
}

// BeforeAccessTokenIssuance implements Extension
func (e *ScopePolicyExtension) BeforeAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, next BeforeNext) error {
	if !data.ScopesFromGrant {
		scopes, err := e.scopes.Resolve(ctx, data.Client, data.RequestedScopes)
		if err != nil {
			return err
		}
		data.Scopes = scopes
	}
	return next(ctx, r, data)
}

// RefreshTokenIssuanceExtension decides whether a refresh token is issued:
// the client must be allowed the refresh_token grant and, if required,
// the offline_access scope must have been granted.
type RefreshTokenIssuanceExtension struct {
	PassThrough
	requireOfflineAccess bool
}

// NewRefreshTokenIssuanceExtension creates the extension
func NewRefreshTokenIssuanceExtension(requireOfflineAccess bool) *RefreshTokenIssuanceExtension {
	return &RefreshTokenIssuanceExtension{requireOfflineAccess: requireOfflineAccess}
}

// BeforeAccessTokenIssuance implements Extension
func (e *RefreshTokenIssuanceExtension) BeforeAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, next BeforeNext) error {
	if !data.RefreshTokenDecided {
		data.IssueRefreshToken = data.Client.IsGrantTypeAllowed(granttype.NameRefreshToken) &&
			(!e.requireOfflineAccess || scope.Contains(data.Scopes, scope.OfflineAccess))
	}
	return next(ctx, r, data)
}

// OpenIDConnectExtension adds an ID token to responses granting the openid
// scope on behalf of a user.
type OpenIDConnectExtension struct {
	PassThrough
	builder responsetype.IDTokenBuilder
	users   storage.UserAccountRepository
}

// NewOpenIDConnectExtension creates the extension. users is optional and
// provides the claims of the ID token.
func NewOpenIDConnectExtension(builder responsetype.IDTokenBuilder, users storage.UserAccountRepository) *OpenIDConnectExtension {
	return &OpenIDConnectExtension{builder: builder, users: users}
}

// AfterAccessTokenIssuance implements Extension
func (e *OpenIDConnectExtension) AfterAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, issued *Issued, next AfterNext) error {
	if e.builder == nil || !scope.Contains(data.Scopes, scope.OpenID) || !issuesForUser(data) {
		return next(ctx, r, data, issued)
	}

	params := idtoken.Params{
		ClientID:    data.Client.ID,
		Subject:     data.ResourceOwnerID,
		AccessToken: issued.AccessToken.ID,
		Lifetime:    data.Client.Lifetime(storage.ParamIDTokenLifetime, 0),
	}
	// The nonce only belongs in the ID token of the code exchange
	// (OpenID Connect Core section 12.2).
	if data.GrantType == granttype.NameAuthorizationCode {
		params.Nonce, _ = data.Metadata[responsetype.MetadataNonce].(string)
	}
	if authTime, ok := unixTime(data.Metadata[responsetype.MetadataAuthTime]); ok {
		params.AuthTime = authTime
	}
	if e.users != nil {
		user, err := e.users.FindUserAccount(ctx, data.ResourceOwnerID)
		if err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("failed to load user account: %w", err)
		}
		if user != nil {
			params.Claims = user.Claims
		}
	}

	token, err := e.builder.Build(params)
	if err != nil {
		return fmt.Errorf("failed to build id token: %w", err)
	}
	issued.Parameters["id_token"] = token
	return next(ctx, r, data, issued)
}

func issuesForUser(data *granttype.Data) bool {
	switch data.GrantType {
	case granttype.NameAuthorizationCode, granttype.NameRefreshToken, granttype.NamePassword:
		return data.ResourceOwnerID != ""
	default:
		return false
	}
}

// unixTime reads a Unix timestamp stored in token metadata. Values that went
// through JSON come back as float64 or json.Number.
func unixTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0), true
	case int:
		return time.Unix(int64(t), 0), true
	case float64:
		return time.Unix(int64(t), 0), true
	case json.Number:
		n, err := t.Int64()
		return time.Unix(n, 0), err == nil
	default:
		return time.Time{}, false
	}
}
