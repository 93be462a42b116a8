package granttype

import (
	"context"
	"net/http"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/oautherr"
)

// JWTBearer exchanges a signed JWT for an access token (RFC 7523 section
// 2.1). The assertion is issued either by the client itself or by a trusted
// issuer; its subject becomes the resource owner.
type JWTBearer struct {
	verifier *authmethod.AssertionVerifier
}

// NewJWTBearer creates the grant type over verifier
func NewJWTBearer(verifier *authmethod.AssertionVerifier) *JWTBearer {
	return &JWTBearer{verifier: verifier}
}

// Name implements GrantType
func (*JWTBearer) Name() string { return NameJWTBearer }

// AssociatedResponseTypes implements GrantType
func (*JWTBearer) AssociatedResponseTypes() []string { return nil }

// CheckRequest requires the assertion
func (*JWTBearer) CheckRequest(r *http.Request) error {
	return requireParameters(r, ParamAssertion)
}

// PrepareResponse validates the assertion. Every failure is invalid_grant;
// claim problems keep their description.
func (g *JWTBearer) PrepareResponse(ctx context.Context, r *http.Request, data *Data) error {
	assertion, err := g.verifier.Parse(r.PostFormValue(ParamAssertion))
	if err != nil {
		oe := oautherr.From(err)
		return oautherr.InvalidGrant(oe.Description)
	}
	if err := g.verifier.Verify(ctx, assertion, data.Client); err != nil {
		return oautherr.InvalidGrant("The assertion could not be verified.")
	}
	data.ResourceOwnerID = assertion.Subject
	data.Metadata["assertion_issuer"] = assertion.Issuer
	return nil
}

// Grant implements GrantType
func (*JWTBearer) Grant(context.Context, *http.Request, *Data) error { return nil }
