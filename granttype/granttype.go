// Package granttype implements the grant types of the token endpoint and the
// registry resolving them by the grant_type parameter.
//
// Each grant type runs in three steps driven by the token endpoint:
// CheckRequest validates the request parameters, PrepareResponse resolves
// the resource owner and the scopes to issue, and Grant performs the state
// changes (marking a code used, rotating a refresh token) right before the
// tokens are issued.
package granttype

import (
	"context"
	"net/http"
	"sort"

	"github.com/giantswarm/oauth2-engine/storage"
)

// Grant type names
const (
	NameAuthorizationCode = "authorization_code"
	NameClientCredentials = "client_credentials"
	NamePassword          = "password"
	NameRefreshToken      = "refresh_token"
	NameImplicit          = "implicit"
	NameJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Request parameters
const (
	ParamGrantType    = "grant_type"
	ParamScope        = "scope"
	ParamCode         = "code"
	ParamRedirectURI  = "redirect_uri"
	ParamCodeVerifier = "code_verifier"
	ParamRefreshToken = "refresh_token"
	ParamUsername     = "username"
	ParamPassword     = "password"
	ParamAssertion    = "assertion"
)

// Data carries the state of one token request through the pipeline
type Data struct {
	GrantType string
	Client    *storage.Client

	// ResourceOwnerID is the user (or the client itself for
	// client_credentials) the tokens are issued for.
	ResourceOwnerID string

	// RequestedScopes is the parsed scope parameter.
	RequestedScopes []string
	// Scopes are the scopes to issue.
	Scopes []string
	// ScopesFromGrant is set when Scopes come from an earlier grant (code or
	// refresh token) and must not be resolved against the scope policy again.
	ScopesFromGrant bool

	// Metadata is copied onto the issued tokens (nonce, auth_time).
	Metadata map[string]any

	// AuthorizationCodeID links the tokens to the code they descend from,
	// so that code reuse can revoke them.
	AuthorizationCodeID string

	// IssueRefreshToken requests a refresh token alongside the access token.
	IssueRefreshToken bool
	// RefreshTokenDecided prevents later steps from overriding IssueRefreshToken.
	RefreshTokenDecided bool

	// Parameters are extra response parameters (e.g. id_token).
	Parameters map[string]any
}

// NewData creates pipeline data for client
func NewData(grantType string, client *storage.Client) *Data {
	return &Data{
		GrantType:  grantType,
		Client:     client,
		Metadata:   map[string]any{},
		Parameters: map[string]any{},
	}
}

// GrantType is one grant type of the token endpoint
type GrantType interface {
	Name() string
	// AssociatedResponseTypes lists the response types that depend on this grant
	AssociatedResponseTypes() []string
	CheckRequest(r *http.Request) error
	PrepareResponse(ctx context.Context, r *http.Request, data *Data) error
	Grant(ctx context.Context, r *http.Request, data *Data) error
}

// Manager is the grant type registry
type Manager struct {
	types map[string]GrantType
}

// NewManager registers grant types by name
func NewManager(types ...GrantType) *Manager {
	m := &Manager{types: make(map[string]GrantType, len(types))}
	for _, gt := range types {
		m.types[gt.Name()] = gt
	}
	return m
}

// Get returns the grant type called name
func (m *Manager) Get(name string) (GrantType, bool) {
	gt, ok := m.types[name]
	return gt, ok
}

// Has reports whether name is registered
func (m *Manager) Has(name string) bool {
	_, ok := m.types[name]
	return ok
}

// Names returns the registered grant types, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
