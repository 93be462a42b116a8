package rulechain

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// grantsRequiringCredentials cannot be used by public clients
var grantsRequiringCredentials = []string{"client_credentials"}

// TokenEndpointAuthMethodEndpointRule resolves token_endpoint_auth_method
// and lets the selected method complete the configuration (secret issuance,
// key material checks). After the rest of the chain it rejects public clients
// declaring grants that need client credentials.
type TokenEndpointAuthMethodEndpointRule struct {
	methods *authmethod.Manager
}

// NewTokenEndpointAuthMethodEndpointRule creates the rule
func NewTokenEndpointAuthMethodEndpointRule(methods *authmethod.Manager) *TokenEndpointAuthMethodEndpointRule {
	return &TokenEndpointAuthMethodEndpointRule{methods: methods}
}

// Handle implements Rule
func (r *TokenEndpointAuthMethodEndpointRule) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	name := command.GetString(storage.ParamTokenEndpointAuthMethod)
	if name == "" {
		name = storage.DefaultTokenEndpointAuthMethod
	}
	method, ok := r.methods.Get(name)
	if !ok {
		return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The token endpoint authentication method %q is not supported. Please use one of the following values: %s.", name, quoteAll(r.methods.Names())))
	}

	validated = validated.With(storage.ParamTokenEndpointAuthMethod, name)
	validated, err := method.CheckClientConfiguration(command, validated)
	if err != nil {
		return databag.DataBag{}, err
	}

	validated, err = next(ctx, command, validated, ownerID)
	if err != nil {
		return databag.DataBag{}, err
	}

	if name == authmethod.MethodNone {
		for _, gt := range validated.GetStrings(storage.ParamGrantTypes) {
			if slices.Contains(grantsRequiringCredentials, gt) {
				return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The grant type %q requires client authentication.", gt))
			}
		}
	}
	return validated, nil
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ", ")
}
