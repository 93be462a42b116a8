package idtoken

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/internal/testutil"
	"github.com/giantswarm/oauth2-engine/keyset"
)

func TestBuilder_Build(t *testing.T) {
	signer, err := NewSigner(testutil.GenerateRSAKey(t), jose.RS256)
	require.NoError(t, err)
	assert.NotEmpty(t, signer.KeyID())

	clock := testutil.NewMockTime(time.Unix(1_700_000_000, 0))
	b := NewBuilder(testutil.Issuer, signer, 0)
	b.SetClock(clock.Now)

	token, err := b.Build(Params{
		ClientID:    "client-1",
		Subject:     "user-1",
		Nonce:       "n-0S6_WzA2Mj",
		AuthTime:    clock.Now().Add(-time.Minute),
		AccessToken: "access",
		Claims:      map[string]any{"email": "u@example.com", "iss": "spoofed"},
	})
	require.NoError(t, err)

	payload, err := keyset.NewStaticKeySet(signer.PublicJWKS(), nil).VerifySignature(context.Background(), token)
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, testutil.Issuer, claims["iss"])
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "client-1", claims["aud"])
	assert.Equal(t, "n-0S6_WzA2Mj", claims["nonce"])
	assert.Equal(t, "u@example.com", claims["email"])
	assert.EqualValues(t, 1_700_000_000+3600, claims["exp"])
	assert.NotEmpty(t, claims["at_hash"])
	assert.NotContains(t, claims, "c_hash")
}

func TestBuilder_RequiresSubject(t *testing.T) {
	signer, err := NewSigner(testutil.GenerateECKey(t), jose.ES256)
	require.NoError(t, err)

	_, err = NewBuilder(testutil.Issuer, signer, time.Minute).Build(Params{ClientID: "c"})
	assert.Error(t, err)
}

func TestHalfHash(t *testing.T) {
	// OpenID Connect Core, appendix A.3 example
	got, err := HalfHash(jose.RS256, "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y")
	require.NoError(t, err)
	assert.Equal(t, "77QmUPtjPfzWtF2AnpK9RQ", got)

	h384, err := HalfHash(jose.ES384, "x")
	require.NoError(t, err)
	assert.Len(t, h384, 32)

	_, err = HalfHash("none", "x")
	assert.Error(t, err)
}

func TestNewSigner_NilKey(t *testing.T) {
	_, err := NewSigner(nil, jose.RS256)
	assert.Error(t, err)
}
