// Package scope resolves the scopes of an authorization or token request
// according to a scope policy and the scopes the server and client support.
package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Policy decides what happens when a request omits the scope parameter.
type Policy string

const (
	// PolicyNone issues credentials without scope
	PolicyNone Policy = "none"
	// PolicyDefault falls back to the client's default_scope, then the server defaults
	PolicyDefault Policy = "default"
	// PolicyError rejects the request with invalid_scope
	PolicyError Policy = "error"
)

// OpenID is the scope requesting OpenID Connect processing
const OpenID = "openid"

// OfflineAccess requests a refresh token (OpenID Connect Core section 11)
const OfflineAccess = "offline_access"

// Repository lists the scopes known to the server.
type Repository interface {
	// AvailableScopes returns every scope the server can grant.
	// A nil slice means no server-side restriction.
	AvailableScopes(ctx context.Context) ([]string, error)
}

// StaticRepository is a fixed list of available scopes
type StaticRepository []string

// AvailableScopes returns the list itself
func (r StaticRepository) AvailableScopes(context.Context) ([]string, error) {
	return r, nil
}

// Manager applies a Policy. It is immutable after construction.
type Manager struct {
	policy   Policy
	repo     Repository
	defaults []string
}

// NewManager creates a manager. repo may be nil; defaults are used by PolicyDefault.
func NewManager(policy Policy, repo Repository, defaults []string) (*Manager, error) {
	switch policy {
	case PolicyNone, PolicyDefault, PolicyError:
	case "":
		policy = PolicyNone
	default:
		return nil, fmt.Errorf("unknown scope policy %q", policy)
	}
	return &Manager{policy: policy, repo: repo, defaults: defaults}, nil
}

// Policy returns the configured policy
func (m *Manager) Policy() Policy {
	return m.policy
}

// Resolve returns the scopes to grant for requested. An empty request is
// handled by the policy. Every resulting scope must be available on the
// server and, when the client restricts its scope, registered for the client.
func (m *Manager) Resolve(ctx context.Context, client *storage.Client, requested []string) ([]string, error) {
	requested = util.Dedupe(requested)

	if len(requested) == 0 {
		switch m.policy {
		case PolicyError:
			return nil, oautherr.InvalidScope("The \"scope\" parameter is missing.")
		case PolicyDefault:
			if client != nil {
				requested = client.DefaultScopes()
			}
			if len(requested) == 0 {
				requested = m.defaults
			}
		default:
			return nil, nil
		}
	}

	if err := m.CheckAvailable(ctx, requested); err != nil {
		return nil, err
	}
	if client != nil {
		if allowed := client.Scopes(); allowed != nil && !util.ContainsAll(allowed, requested) {
			return nil, oautherr.InvalidScope(fmt.Sprintf("The scope %q is not allowed for this client.", firstMissing(allowed, requested)))
		}
	}
	return requested, nil
}

// CheckAvailable fails with invalid_scope if a scope is unknown to the server
func (m *Manager) CheckAvailable(ctx context.Context, scopes []string) error {
	if m.repo == nil || len(scopes) == 0 {
		return nil
	}
	available, err := m.repo.AvailableScopes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list available scopes: %w", err)
	}
	if available == nil || util.ContainsAll(available, scopes) {
		return nil
	}
	return oautherr.InvalidScope(fmt.Sprintf("The scope %q is not supported.", firstMissing(available, scopes)))
}

// Narrow checks that requested is a subset of granted and returns the
// scopes to issue. An empty request keeps the granted scopes.
func Narrow(granted, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}
	requested = util.Dedupe(requested)
	if !util.ContainsAll(granted, requested) {
		return nil, oautherr.InvalidScope("The requested scope exceeds the scope originally granted.")
	}
	return requested, nil
}

// Parse splits a space-delimited scope string
func Parse(s string) []string {
	return strings.Fields(s)
}

// Format joins scopes with spaces
func Format(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Contains reports whether scopes holds s
func Contains(scopes []string, s string) bool {
	for _, v := range scopes {
		if v == s {
			return true
		}
	}
	return false
}

func firstMissing(set, subset []string) string {
	for _, s := range subset {
		if !Contains(set, s) {
			return s
		}
	}
	return ""
}
