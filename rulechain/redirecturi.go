package rulechain

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// DefaultBlockedSchemes can never be used as redirect URI schemes
var DefaultBlockedSchemes = []string{"javascript", "data", "file", "vbscript", "blob"}

// RedirectionURIRule validates redirect_uris. It runs after the rest of the
// chain because its checks depend on the final response_types and
// application_type.
//
// Web clients must use http(s) URIs on non-loopback hosts, and https when a
// response type returns tokens from the authorization endpoint. Native
// clients may use loopback and private-use schemes (RFC 8252).
type RedirectionURIRule struct {
	blockedSchemes []string
}

// NewRedirectionURIRule creates the rule. A nil list uses DefaultBlockedSchemes.
func NewRedirectionURIRule(blockedSchemes []string) *RedirectionURIRule {
	if blockedSchemes == nil {
		blockedSchemes = DefaultBlockedSchemes
	}
	return &RedirectionURIRule{blockedSchemes: blockedSchemes}
}

// Handle implements Rule
func (r *RedirectionURIRule) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	validated, err := next(ctx, command, validated, ownerID)
	if err != nil {
		return databag.DataBag{}, err
	}

	uris := util.Dedupe(command.GetStrings(storage.ParamRedirectURIs))
	responseTypes := validated.GetStrings(storage.ParamResponseTypes)
	if len(uris) == 0 {
		if len(responseTypes) > 0 {
			return databag.DataBag{}, oautherr.InvalidRedirectURI("The parameter \"redirect_uris\" is mandatory when response types are used.")
		}
		return validated.Without(storage.ParamRedirectURIs), nil
	}

	web := validated.GetString(storage.ParamApplicationType) != "native"
	implicit := slices.ContainsFunc(responseTypes, returnsTokens)
	for _, uri := range uris {
		if err := r.check(uri, web, implicit); err != nil {
			return databag.DataBag{}, err
		}
	}
	return validated.With(storage.ParamRedirectURIs, uris), nil
}

func (r *RedirectionURIRule) check(raw string, web, implicit bool) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return oautherr.InvalidRedirectURI(fmt.Sprintf("The redirect URI %q must be an absolute URI.", raw))
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return oautherr.InvalidRedirectURI(fmt.Sprintf("The redirect URI %q must not contain a fragment.", raw))
	}

	scheme := strings.ToLower(u.Scheme)
	if slices.Contains(r.blockedSchemes, scheme) {
		return oautherr.InvalidRedirectURI(fmt.Sprintf("The scheme %q is not allowed for redirect URIs.", scheme))
	}
	if !web {
		return nil
	}

	if scheme != "https" && scheme != "http" {
		return oautherr.InvalidRedirectURI("Web clients must use http or https redirect URIs.")
	}
	if util.IsLoopbackHostname(u.Hostname()) {
		return oautherr.InvalidRedirectURI("The host \"localhost\" is not allowed for web clients.")
	}
	if implicit && scheme != "https" {
		return oautherr.InvalidRedirectURI("Web clients using implicit response types must use https redirect URIs.")
	}
	return nil
}

// returnsTokens reports whether a response type delivers tokens through the
// front channel (token or id_token).
func returnsTokens(responseType string) bool {
	for _, part := range strings.Fields(responseType) {
		if part == "token" || part == "id_token" {
			return true
		}
	}
	return false
}
