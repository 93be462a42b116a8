package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
)

// Client parameter keys (RFC 7591 client metadata plus engine extensions).
const (
	ParamTokenEndpointAuthMethod = "token_endpoint_auth_method"
	ParamClientSecret            = "client_secret"
	ParamClientSecretHash        = "client_secret_hash"
	ParamClientSecretExpiresAt   = "client_secret_expires_at"
	ParamJWKS                    = "jwks"
	ParamJWKSURI                 = "jwks_uri"
	ParamRedirectURIs            = "redirect_uris"
	ParamGrantTypes              = "grant_types"
	ParamResponseTypes           = "response_types"
	ParamScope                   = "scope"
	ParamDefaultScope            = "default_scope"
	ParamApplicationType         = "application_type"
	ParamAccessTokenLifetime     = "access_token_lifetime"
	ParamRefreshTokenLifetime    = "refresh_token_lifetime"
	ParamAuthCodeLifetime        = "authorization_code_lifetime"
	ParamIDTokenLifetime         = "id_token_lifetime"
	ParamClientName              = "client_name"
)

// Default client metadata values (RFC 7591 section 2)
const (
	DefaultTokenEndpointAuthMethod = "client_secret_basic"
	DefaultApplicationType         = "web"
	DefaultGrantType               = "authorization_code"
	DefaultResponseType            = "code"
)

// Client is a registered OAuth client.
// Clients are never physically removed; Deleted marks a soft deletion and a
// deleted client always fails authentication.
type Client struct {
	ID         string
	OwnerID    string
	Parameters databag.DataBag
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsDeleted reports whether the client has been soft-deleted.
func (c *Client) IsDeleted() bool {
	return c.Deleted
}

// TokenEndpointAuthMethod returns the configured authentication method,
// defaulting to client_secret_basic.
func (c *Client) TokenEndpointAuthMethod() string {
	if m := c.Parameters.GetString(ParamTokenEndpointAuthMethod); m != "" {
		return m
	}
	return DefaultTokenEndpointAuthMethod
}

// IsPublic reports whether the client authenticates without credentials.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod() == "none"
}

// AreClientCredentialsExpired reports whether client_secret_expires_at is set and in the past.
// A value of 0 means the credentials never expire (RFC 7591 section 3.2.1).
func (c *Client) AreClientCredentialsExpired(now time.Time) bool {
	expiresAt, ok := c.Parameters.GetInt64(ParamClientSecretExpiresAt)
	if !ok || expiresAt == 0 {
		return false
	}
	return now.After(time.Unix(expiresAt, 0))
}

// ApplicationType returns "web" or "native".
func (c *Client) ApplicationType() string {
	if t := c.Parameters.GetString(ParamApplicationType); t != "" {
		return t
	}
	return DefaultApplicationType
}

// RedirectURIs returns the registered redirect URIs.
func (c *Client) RedirectURIs() []string {
	return c.Parameters.GetStrings(ParamRedirectURIs)
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs() {
		if registered == uri {
			return true
		}
	}
	return false
}

// GrantTypes returns the declared grant types, defaulting to authorization_code.
func (c *Client) GrantTypes() []string {
	if !c.Parameters.Has(ParamGrantTypes) {
		return []string{DefaultGrantType}
	}
	return c.Parameters.GetStrings(ParamGrantTypes)
}

// ResponseTypes returns the declared response types, defaulting to code.
func (c *Client) ResponseTypes() []string {
	if !c.Parameters.Has(ParamResponseTypes) {
		return []string{DefaultResponseType}
	}
	return c.Parameters.GetStrings(ParamResponseTypes)
}

// IsGrantTypeAllowed reports whether the client declared grantType.
func (c *Client) IsGrantTypeAllowed(grantType string) bool {
	for _, gt := range c.GrantTypes() {
		if gt == grantType {
			return true
		}
	}
	return false
}

// IsResponseTypeAllowed reports whether the client declared responseType.
// Multi-valued response types match regardless of token order.
func (c *Client) IsResponseTypeAllowed(responseType string) bool {
	want := NormalizeResponseType(responseType)
	for _, rt := range c.ResponseTypes() {
		if NormalizeResponseType(rt) == want {
			return true
		}
	}
	return false
}

// Scopes returns the scopes the client may request. Nil means no restriction.
func (c *Client) Scopes() []string {
	if !c.Parameters.Has(ParamScope) {
		return nil
	}
	return c.Parameters.GetStrings(ParamScope)
}

// DefaultScopes returns the scopes granted when a request omits the scope parameter.
func (c *Client) DefaultScopes() []string {
	return c.Parameters.GetStrings(ParamDefaultScope)
}

// Lifetime returns the duration in seconds stored under key, or fallback.
func (c *Client) Lifetime(key string, fallback time.Duration) time.Duration {
	seconds, ok := c.Parameters.GetInt64(key)
	if !ok || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// NormalizeResponseType sorts the space separated tokens of a response type
// so that "token code" and "code token" compare equal.
func NormalizeResponseType(responseType string) string {
	parts := strings.Fields(responseType)
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
