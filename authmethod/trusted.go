package authmethod

import (
	"sort"

	"github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oauth2-engine/keyset"
)

// TrustedIssuer is a third party whose signed assertions are accepted for
// clients in place of the client's own key material.
type TrustedIssuer struct {
	Name       string
	Algorithms []jose.SignatureAlgorithm
	KeySet     keyset.KeySet
}

// TrustedIssuerRegistry holds the trusted issuers by name. It is read-only
// after construction.
type TrustedIssuerRegistry struct {
	issuers map[string]TrustedIssuer
}

// NewTrustedIssuerRegistry registers issuers
func NewTrustedIssuerRegistry(issuers ...TrustedIssuer) *TrustedIssuerRegistry {
	r := &TrustedIssuerRegistry{issuers: make(map[string]TrustedIssuer, len(issuers))}
	for _, issuer := range issuers {
		r.issuers[issuer.Name] = issuer
	}
	return r
}

// Get returns the issuer registered under name
func (r *TrustedIssuerRegistry) Get(name string) (TrustedIssuer, bool) {
	if r == nil {
		return TrustedIssuer{}, false
	}
	issuer, ok := r.issuers[name]
	return issuer, ok
}

// Names returns the registered issuer names, sorted
func (r *TrustedIssuerRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.issuers))
	for name := range r.issuers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// keySet returns the issuer's key set restricted to its algorithms
func (i TrustedIssuer) keySet() keyset.KeySet {
	algorithms := i.Algorithms
	if len(algorithms) == 0 {
		algorithms = keyset.AsymmetricAlgorithms
	}
	return keyset.RestrictAlgorithms(i.KeySet, algorithms)
}
