package rulechain

import (
	"context"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ScopeRule restricts scope and default_scope to the scopes the server offers.
// default_scope must be a subset of scope when both are set.
type ScopeRule struct {
	scopes *scope.Manager
}

// NewScopeRule creates the rule
func NewScopeRule(scopes *scope.Manager) *ScopeRule {
	return &ScopeRule{scopes: scopes}
}

// Handle implements Rule
func (r *ScopeRule) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	var allowed []string
	restricted := command.Has(storage.ParamScope)
	if restricted {
		allowed = util.Dedupe(command.GetStrings(storage.ParamScope))
		if err := r.check(ctx, allowed); err != nil {
			return databag.DataBag{}, err
		}
		validated = validated.With(storage.ParamScope, scope.Format(allowed))
	}

	if command.Has(storage.ParamDefaultScope) {
		defaults := util.Dedupe(command.GetStrings(storage.ParamDefaultScope))
		if err := r.check(ctx, defaults); err != nil {
			return databag.DataBag{}, err
		}
		if restricted {
			for _, s := range defaults {
				if !scope.Contains(allowed, s) {
					return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"default_scope\" must be a subset of \"scope\".")
				}
			}
		}
		validated = validated.With(storage.ParamDefaultScope, scope.Format(defaults))
	}

	return next(ctx, command, validated, ownerID)
}

func (r *ScopeRule) check(ctx context.Context, scopes []string) error {
	if r.scopes == nil {
		return nil
	}
	if err := r.scopes.CheckAvailable(ctx, scopes); err != nil {
		if oe := oautherr.From(err); oe.Code == oautherr.CodeInvalidScope {
			return oautherr.InvalidClientMetadata(oe.Description)
		}
		return err
	}
	return nil
}
