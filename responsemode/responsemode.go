// Package responsemode delivers authorization responses to the client's
// redirect URI: in the query string, in the fragment, or through an
// auto-submitted HTML form (OAuth 2.0 Form Post Response Mode).
package responsemode

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/response"
)

// Manager is the registry of response modes. It is read-only after construction.
type Manager struct {
	modes map[string]authorization.ResponseMode
}

var _ authorization.ResponseModeRegistry = (*Manager)(nil)

// NewManager registers modes by name
func NewManager(modes ...authorization.ResponseMode) *Manager {
	m := &Manager{modes: make(map[string]authorization.ResponseMode, len(modes))}
	for _, mode := range modes {
		m.modes[mode.Name()] = mode
	}
	return m
}

// DefaultManager registers query, fragment and form_post
func DefaultManager() *Manager {
	return NewManager(Query{}, Fragment{}, NewFormPost())
}

// Get returns the mode registered under name
func (m *Manager) Get(name string) (authorization.ResponseMode, bool) {
	mode, ok := m.modes[name]
	return mode, ok
}

// Names returns the registered mode names, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.modes))
	for name := range m.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query appends the parameters to the redirect URI query string
type Query struct{}

// Name implements authorization.ResponseMode
func (Query) Name() string { return authorization.ResponseModeQuery }

// BuildResponse implements authorization.ResponseMode
func (Query) BuildResponse(redirectURI string, params map[string]string, headers http.Header) (*response.Response, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return redirect(u.String(), headers), nil
}

// Fragment places the parameters in the redirect URI fragment
type Fragment struct{}

// Name implements authorization.ResponseMode
func (Fragment) Name() string { return authorization.ResponseModeFragment }

// BuildResponse implements authorization.ResponseMode
func (Fragment) BuildResponse(redirectURI string, params map[string]string, headers http.Header) (*response.Response, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return redirect(u.String()+"#"+values.Encode(), headers), nil
}

func redirect(location string, headers http.Header) *response.Response {
	resp := response.Redirect(location)
	for k, vs := range headers {
		for _, v := range vs {
			resp.Header.Add(k, v)
		}
	}
	return resp
}
