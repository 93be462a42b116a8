// Package pkce implements Proof Key for Code Exchange (RFC 7636) challenge
// verification as a registry of named methods.
package pkce

import (
	"crypto/subtle"
	"fmt"
	"sort"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-engine/oautherr"
)

// Method names
const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// Verifier and challenge length bounds (RFC 7636 section 4.1)
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// Method verifies a code_verifier against a stored code_challenge.
type Method interface {
	Name() string
	IsChallengeVerified(verifier, challenge string) bool
}

// Plain compares verifier and challenge byte for byte.
type Plain struct{}

// Name returns "plain"
func (Plain) Name() string { return MethodPlain }

// IsChallengeVerified reports whether verifier equals challenge, in constant time.
func (Plain) IsChallengeVerified(verifier, challenge string) bool {
	return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
}

// S256 compares BASE64URL(SHA256(verifier)) with the challenge.
type S256 struct{}

// Name returns "S256"
func (S256) Name() string { return MethodS256 }

// IsChallengeVerified reports whether challenge was derived from verifier.
func (S256) IsChallengeVerified(verifier, challenge string) bool {
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// Manager is the registry of supported methods. It is populated once and
// safe for concurrent use afterwards.
type Manager struct {
	methods map[string]Method
}

// NewManager registers methods by name. Later methods replace earlier ones of the same name.
func NewManager(methods ...Method) *Manager {
	m := &Manager{methods: make(map[string]Method, len(methods))}
	for _, method := range methods {
		m.methods[method.Name()] = method
	}
	return m
}

// DefaultManager returns a manager with S256, and plain when allowPlain is set.
// OAuth 2.1 recommends S256 only.
func DefaultManager(allowPlain bool) *Manager {
	if allowPlain {
		return NewManager(S256{}, Plain{})
	}
	return NewManager(S256{})
}

// Has reports whether method is registered
func (m *Manager) Has(method string) bool {
	_, ok := m.methods[method]
	return ok
}

// Get returns the named method
func (m *Manager) Get(method string) (Method, bool) {
	v, ok := m.methods[method]
	return v, ok
}

// Names returns the registered method names, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify checks verifier against challenge using method. An empty method
// means plain (RFC 7636 section 4.3). All failures are invalid_grant.
func (m *Manager) Verify(method, verifier, challenge string) error {
	if method == "" {
		method = MethodPlain
	}
	impl, ok := m.methods[method]
	if !ok {
		return oautherr.InvalidGrant(fmt.Sprintf("The code challenge method %q is not supported.", method))
	}
	if err := ValidateVerifier(verifier); err != nil {
		return err
	}
	if !impl.IsChallengeVerified(verifier, challenge) {
		return oautherr.InvalidGrant("The code verifier does not match the code challenge.")
	}
	return nil
}

// ValidateVerifier checks the code_verifier format: 43 to 128 characters from
// the unreserved set [A-Za-z0-9-._~].
func ValidateVerifier(verifier string) error {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return oautherr.InvalidGrant(fmt.Sprintf("The code verifier must be between %d and %d characters long.", MinVerifierLength, MaxVerifierLength))
	}
	if !isUnreserved(verifier) {
		return oautherr.InvalidGrant("The code verifier contains invalid characters.")
	}
	return nil
}

// ValidateChallenge checks a code_challenge sent to the authorization endpoint.
// It has the same format constraints as a verifier.
func ValidateChallenge(challenge string) error {
	if len(challenge) < MinVerifierLength || len(challenge) > MaxVerifierLength || !isUnreserved(challenge) {
		return oautherr.InvalidRequest("The parameter \"code_challenge\" is invalid.")
	}
	return nil
}

func isUnreserved(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
