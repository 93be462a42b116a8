// Package responsetype implements the response types of the authorization
// endpoint (code, token, id_token, none and their combinations) and the
// registry resolving them by name.
package responsetype

import (
	"sort"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/idtoken"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Response type names
const (
	NameCode    = "code"
	NameToken   = "token"
	NameIDToken = "id_token"
	NameNone    = "none"
)

// Grant types response types are associated with
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
)

// Metadata keys stored on authorization codes for the token endpoint
const (
	MetadataNonce    = "nonce"
	MetadataAuthTime = "auth_time"
)

// Default lifetimes
const (
	DefaultAuthorizationCodeLifetime = 10 * time.Minute
	DefaultAccessTokenLifetime       = time.Hour
)

// IDTokenBuilder signs ID tokens
type IDTokenBuilder interface {
	Build(p idtoken.Params) (string, error)
}

var (
	allModes      = []string{authorization.ResponseModeQuery, authorization.ResponseModeFragment, authorization.ResponseModeFormPost}
	fragmentModes = []string{authorization.ResponseModeFragment, authorization.ResponseModeFormPost}
)

// Manager is the registry of response types, keyed by normalized name.
type Manager struct {
	types map[string]authorization.ResponseType
}

var _ authorization.ResponseTypeRegistry = (*Manager)(nil)

// NewManager registers types by their normalized name
func NewManager(types ...authorization.ResponseType) *Manager {
	m := &Manager{types: make(map[string]authorization.ResponseType, len(types))}
	for _, rt := range types {
		m.types[storage.NormalizeResponseType(rt.Name())] = rt
	}
	return m
}

// Get returns the response type registered under name, in any token order
func (m *Manager) Get(name string) (authorization.ResponseType, bool) {
	rt, ok := m.types[storage.NormalizeResponseType(name)]
	return rt, ok
}

// Names returns the registered names, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AssociatedGrantTypes returns the grant types linked to name, if registered
func (m *Manager) AssociatedGrantTypes(name string) ([]string, bool) {
	rt, ok := m.Get(name)
	if !ok {
		return nil, false
	}
	return rt.AssociatedGrantTypes(), true
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func hasToken(name, token string) bool {
	for _, f := range strings.Fields(name) {
		if f == token {
			return true
		}
	}
	return false
}
