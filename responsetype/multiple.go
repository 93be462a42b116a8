package responsetype

import (
	"context"
	"sort"
	"strings"

	"github.com/giantswarm/oauth2-engine/authorization"
)

// processing order inside a combined response: the id_token comes last so it
// can hash the code and access token.
var processOrder = map[string]int{NameCode: 0, NameToken: 1, NameIDToken: 2}

// Multiple combines response types, e.g. "code id_token".
type Multiple struct {
	name  string
	parts []authorization.ResponseType
}

// NewMultiple combines parts. The result is delivered in the fragment by default.
func NewMultiple(parts ...authorization.ResponseType) *Multiple {
	sorted := append([]authorization.ResponseType(nil), parts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return processOrder[sorted[i].Name()] < processOrder[sorted[j].Name()]
	})
	names := make([]string, len(sorted))
	for i, p := range sorted {
		names[i] = p.Name()
	}
	sort.Strings(names)
	return &Multiple{name: strings.Join(names, " "), parts: sorted}
}

// Name implements authorization.ResponseType
func (m *Multiple) Name() string { return m.name }

// AssociatedGrantTypes returns the union of the parts' grant types
func (m *Multiple) AssociatedGrantTypes() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range m.parts {
		for _, gt := range p.AssociatedGrantTypes() {
			if !seen[gt] {
				seen[gt] = true
				out = append(out, gt)
			}
		}
	}
	return out
}

// DefaultResponseMode implements authorization.ResponseType
func (*Multiple) DefaultResponseMode() string { return authorization.ResponseModeFragment }

// AllowedResponseModes implements authorization.ResponseType
func (*Multiple) AllowedResponseModes() []string { return fragmentModes }

// CheckAuthorization runs every part's check
func (m *Multiple) CheckAuthorization(ctx context.Context, auth *authorization.Authorization) error {
	for _, p := range m.parts {
		if err := p.CheckAuthorization(ctx, auth); err != nil {
			return err
		}
	}
	return nil
}

// Process runs every part in issuance order
func (m *Multiple) Process(ctx context.Context, auth *authorization.Authorization) error {
	for _, p := range m.parts {
		if err := p.Process(ctx, auth); err != nil {
			return err
		}
	}
	return nil
}
