// Package rulechain validates and normalizes client metadata through an
// ordered list of rules.
//
// Each rule receives the raw command parameters, the parameters validated so
// far and a next function supplied by the Manager. A rule may do its work
// before calling next (pre-processing) or call next first and inspect the
// final output (post-processing). Rules hold no per-call state, so running
// the chain on its own output yields the same output again.
package rulechain

import (
	"context"
	"time"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/scope"
)

// Next continues the chain with the following rule
type Next func(ctx context.Context, command, validated databag.DataBag, ownerID string) (databag.DataBag, error)

// Rule is one step of the chain
type Rule interface {
	Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error)
}

// RuleFunc adapts a function to the Rule interface
type RuleFunc func(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error)

// Handle implements Rule
func (f RuleFunc) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	return f(ctx, command, validated, ownerID, next)
}

// Manager runs rules in registration order
type Manager struct {
	rules []Rule
}

// NewManager creates a chain over rules
func NewManager(rules ...Rule) *Manager {
	return &Manager{rules: rules}
}

// Add appends a rule to the end of the chain
func (m *Manager) Add(rule Rule) *Manager {
	m.rules = append(m.rules, rule)
	return m
}

// Len returns the number of rules
func (m *Manager) Len() int {
	return len(m.rules)
}

// Handle runs the chain. The returned bag holds only the parameters the
// rules accepted; unknown command parameters are dropped.
func (m *Manager) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string) (databag.DataBag, error) {
	return m.at(0)(ctx, command, validated, ownerID)
}

func (m *Manager) at(index int) Next {
	return func(ctx context.Context, command, validated databag.DataBag, ownerID string) (databag.DataBag, error) {
		if index >= len(m.rules) {
			return validated, nil
		}
		return m.rules[index].Handle(ctx, command, validated, ownerID, m.at(index+1))
	}
}

// Config holds the collaborators of the client registration rules
type Config struct {
	GrantTypes    GrantTypeSupport
	ResponseTypes ResponseTypeSupport
	AuthMethods   *authmethod.Manager
	// Scopes restricts scope and default_scope; nil accepts any scope.
	Scopes *scope.Manager
	// BlockedSchemes overrides DefaultBlockedSchemes for redirect URIs.
	BlockedSchemes []string
	// MaxLifetimes bounds the per-client token lifetime overrides.
	MaxLifetimes map[string]time.Duration
}

// DefaultManager returns the client registration chain
func DefaultManager(cfg Config) *Manager {
	return NewManager(
		CommonParametersRule{},
		NewRedirectionURIRule(cfg.BlockedSchemes),
		NewGrantTypeFlowRule(cfg.GrantTypes, cfg.ResponseTypes),
		NewScopeRule(cfg.Scopes),
		NewTokenEndpointAuthMethodEndpointRule(cfg.AuthMethods),
		NewTokenLifetimeRule(cfg.MaxLifetimes),
	)
}
