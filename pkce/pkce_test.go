package pkce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-engine/oautherr"
)

func TestS256_Properties(t *testing.T) {
	for i := 0; i < 50; i++ {
		verifier := oauth2.GenerateVerifier()
		challenge := oauth2.S256ChallengeFromVerifier(verifier)

		assert.True(t, S256{}.IsChallengeVerified(verifier, challenge))

		other := oauth2.GenerateVerifier()
		assert.False(t, S256{}.IsChallengeVerified(other, challenge), "a different verifier must be rejected")
	}
}

func TestS256_KnownVector(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, S256{}.IsChallengeVerified(verifier, challenge))
	assert.False(t, S256{}.IsChallengeVerified(verifier, strings.ToLower(challenge)))
}

func TestPlain_ByteEquality(t *testing.T) {
	v := oauth2.GenerateVerifier()

	assert.True(t, Plain{}.IsChallengeVerified(v, v))
	assert.False(t, Plain{}.IsChallengeVerified(v, v+"x"))
	assert.False(t, Plain{}.IsChallengeVerified(v, strings.ToUpper(v)))
	assert.False(t, Plain{}.IsChallengeVerified(v, oauth2.S256ChallengeFromVerifier(v)))
}

func TestManager_Verify(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	tests := []struct {
		name       string
		manager    *Manager
		method     string
		verifier   string
		challenge  string
		wantErr    bool
		errContain string
	}{
		{name: "S256 ok", manager: DefaultManager(false), method: MethodS256, verifier: verifier, challenge: challenge},
		{name: "S256 mismatch", manager: DefaultManager(false), method: MethodS256, verifier: oauth2.GenerateVerifier(), challenge: challenge, wantErr: true, errContain: "does not match"},
		{name: "plain disabled", manager: DefaultManager(false), method: MethodPlain, verifier: verifier, challenge: verifier, wantErr: true, errContain: "not supported"},
		{name: "empty method means plain", manager: DefaultManager(true), verifier: verifier, challenge: verifier},
		{name: "plain enabled", manager: DefaultManager(true), method: MethodPlain, verifier: verifier, challenge: verifier},
		{name: "short verifier", manager: DefaultManager(true), method: MethodPlain, verifier: "abc", challenge: "abc", wantErr: true, errContain: "between"},
		{name: "invalid characters", manager: DefaultManager(true), method: MethodPlain, verifier: strings.Repeat("a", 42) + "+", challenge: strings.Repeat("a", 42) + "+", wantErr: true, errContain: "invalid characters"},
		{name: "unknown method", manager: DefaultManager(true), method: "S512", verifier: verifier, challenge: challenge, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manager.Verify(tt.method, tt.verifier, tt.challenge)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, oautherr.Is(err, oautherr.CodeInvalidGrant))
			if tt.errContain != "" {
				assert.Contains(t, err.Error(), tt.errContain)
			}
		})
	}
}

func TestManager_Registry(t *testing.T) {
	m := DefaultManager(true)
	assert.Equal(t, []string{MethodS256, MethodPlain}, m.Names())
	assert.True(t, m.Has(MethodS256))
	_, ok := m.Get("none")
	assert.False(t, ok)
}

func TestValidateChallenge(t *testing.T) {
	assert.NoError(t, ValidateChallenge(oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())))
	assert.Error(t, ValidateChallenge("short"))
	assert.Error(t, ValidateChallenge(strings.Repeat("a", 129)))
}
