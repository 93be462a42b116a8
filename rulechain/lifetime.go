package rulechain

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// LifetimeParameters are the per-client token lifetime overrides, in seconds
var LifetimeParameters = []string{
	storage.ParamAccessTokenLifetime,
	storage.ParamRefreshTokenLifetime,
	storage.ParamAuthCodeLifetime,
	storage.ParamIDTokenLifetime,
}

// TokenLifetimeRule accepts per-client token lifetimes. Each value must be a
// positive number of seconds no greater than the configured maximum.
type TokenLifetimeRule struct {
	limits map[string]time.Duration
}

// NewTokenLifetimeRule creates the rule. Parameters without a maximum are
// only required to be positive.
func NewTokenLifetimeRule(limits map[string]time.Duration) *TokenLifetimeRule {
	return &TokenLifetimeRule{limits: limits}
}

// Handle implements Rule
func (r *TokenLifetimeRule) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	for _, key := range LifetimeParameters {
		if !command.Has(key) {
			continue
		}
		seconds, ok := command.GetInt64(key)
		if !ok || seconds <= 0 {
			return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The parameter %q must be a positive integer.", key))
		}
		if limit := r.limits[key]; limit > 0 && time.Duration(seconds)*time.Second > limit {
			return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The parameter %q must not exceed %d seconds.", key, int64(limit/time.Second)))
		}
		validated = validated.With(key, seconds)
	}
	return next(ctx, command, validated, ownerID)
}
