package rulechain

import (
	"context"
	"fmt"
	"slices"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// GrantTypeSupport reports which grant types the token endpoint serves
type GrantTypeSupport interface {
	Has(name string) bool
}

// ResponseTypeSupport resolves the grant types a response type depends on
type ResponseTypeSupport interface {
	AssociatedGrantTypes(name string) ([]string, bool)
}

// GrantTypeFlowRule checks that grant_types and response_types are supported
// and coherent: every response type needs its associated grant types
// (code needs authorization_code, token and id_token need implicit).
type GrantTypeFlowRule struct {
	grantTypes    GrantTypeSupport
	responseTypes ResponseTypeSupport
}

// NewGrantTypeFlowRule creates the rule
func NewGrantTypeFlowRule(grantTypes GrantTypeSupport, responseTypes ResponseTypeSupport) *GrantTypeFlowRule {
	return &GrantTypeFlowRule{grantTypes: grantTypes, responseTypes: responseTypes}
}

// Handle implements Rule
func (r *GrantTypeFlowRule) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	grantTypes := []string{storage.DefaultGrantType}
	if command.Has(storage.ParamGrantTypes) {
		grantTypes = util.Dedupe(command.GetStrings(storage.ParamGrantTypes))
	}
	for _, gt := range grantTypes {
		if !r.grantTypes.Has(gt) {
			return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The grant type %q is not supported by this server.", gt))
		}
	}

	responseTypes := []string{}
	switch {
	case command.Has(storage.ParamResponseTypes):
		for _, rt := range command.GetStrings(storage.ParamResponseTypes) {
			responseTypes = append(responseTypes, storage.NormalizeResponseType(rt))
		}
		responseTypes = util.Dedupe(responseTypes)
	case slices.Contains(grantTypes, storage.DefaultGrantType):
		responseTypes = []string{storage.DefaultResponseType}
	}

	for _, rt := range responseTypes {
		associated, ok := r.responseTypes.AssociatedGrantTypes(rt)
		if !ok {
			return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The response type %q is not supported by this server.", rt))
		}
		for _, gt := range associated {
			if !slices.Contains(grantTypes, gt) {
				return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The response type %q requires the grant type %q.", rt, gt))
			}
		}
	}

	validated = validated.
		With(storage.ParamGrantTypes, grantTypes).
		With(storage.ParamResponseTypes, responseTypes)
	return next(ctx, command, validated, ownerID)
}
