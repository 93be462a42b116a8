package keyset

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/internal/testutil"
)

func TestStaticKeySet(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	other := testutil.GenerateRSAKey(t)
	claims := testutil.AssertionClaims("client-1", time.Now())

	set, err := ParseJWKS(testutil.PublicJWKS(t, key, "k1"))
	require.NoError(t, err)
	ks := NewStaticKeySet(set, nil)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "matching kid", token: testutil.SignJWT(t, key, jose.RS256, "k1", claims)},
		{name: "no kid tries every key", token: testutil.SignJWT(t, key, jose.PS256, "", claims)},
		{name: "unknown kid", token: testutil.SignJWT(t, key, jose.RS256, "k2", claims), wantErr: true},
		{name: "wrong key", token: testutil.SignJWT(t, other, jose.RS256, "k1", claims), wantErr: true},
		{name: "hmac not accepted", token: testutil.SignJWT(t, []byte("0123456789abcdef0123456789abcdef"), jose.HS256, "", claims), wantErr: true},
		{name: "garbage", token: "not.a.jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ks.VerifySignature(context.Background(), tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(payload, &got))
			assert.Equal(t, "client-1", got["iss"])
		})
	}
}

func TestParseJWKS(t *testing.T) {
	key := testutil.GenerateECKey(t)
	raw := testutil.PublicJWKS(t, key, "ec")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	for name, value := range map[string]any{"string": raw, "bytes": []byte(raw), "map": decoded} {
		t.Run(name, func(t *testing.T) {
			set, err := ParseJWKS(value)
			require.NoError(t, err)
			assert.Len(t, set.Keys, 1)
		})
	}

	_, err := ParseJWKS(`{"keys":[]}`)
	assert.Error(t, err)
	_, err = ParseJWKS("{")
	assert.Error(t, err)
}

func TestSecretKeySet(t *testing.T) {
	secret := []byte("a-very-long-shared-client-secret-value")
	claims := testutil.AssertionClaims("client-1", time.Now())

	ks := NewSecretKeySet(secret)
	_, err := ks.VerifySignature(context.Background(), testutil.SignJWT(t, secret, jose.HS256, "", claims))
	assert.NoError(t, err)

	_, err = ks.VerifySignature(context.Background(), testutil.SignJWT(t, []byte("another-secret-of-sufficient-size!!"), jose.HS256, "", claims))
	assert.ErrorIs(t, err, ErrNoMatchingKey)

	_, err = NewSecretKeySet(nil).VerifySignature(context.Background(), "x")
	assert.Error(t, err)
}

func TestRestrictAlgorithms(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	set, err := ParseJWKS(testutil.PublicJWKS(t, key, "k1"))
	require.NoError(t, err)

	ks := RestrictAlgorithms(NewStaticKeySet(set, nil), []jose.SignatureAlgorithm{jose.RS256})
	claims := testutil.AssertionClaims("c", time.Now())

	_, err = ks.VerifySignature(context.Background(), testutil.SignJWT(t, key, jose.RS256, "k1", claims))
	assert.NoError(t, err)
	_, err = ks.VerifySignature(context.Background(), testutil.SignJWT(t, key, jose.PS256, "k1", claims))
	assert.Error(t, err)
}

func TestSignatureAlgorithm(t *testing.T) {
	token := testutil.SignJWT(t, testutil.GenerateECKey(t), jose.ES256, "", map[string]any{"sub": "x"})
	alg, err := SignatureAlgorithm(token)
	require.NoError(t, err)
	assert.Equal(t, jose.ES256, alg)

	_, err = SignatureAlgorithm("a.b")
	assert.Error(t, err)
}

func TestRemoteKeySet(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, testutil.PublicJWKS(t, key, "remote"))

	cache := NewRemoteCache(NewHTTPClient(time.Second), 1)
	ks := cache.Get(srv.URL)
	assert.Same(t, ks, cache.Get(srv.URL))
	assert.Equal(t, srv.URL, ks.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := ks.VerifySignature(ctx, testutil.SignJWT(t, key, jose.RS256, "remote", map[string]any{"sub": "x"}))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"sub":"x"`)

	cache.Get(srv.URL + "/other")
	assert.Equal(t, 1, cache.Len(), "oldest entry is evicted")
}

func TestRemoteKeySet_Unreachable(t *testing.T) {
	ks := NewRemoteKeySet("http://127.0.0.1:1/jwks", NewHTTPClient(time.Second))
	token := testutil.SignJWT(t, testutil.GenerateRSAKey(t), jose.RS256, "k", map[string]any{"sub": "x"})

	_, err := ks.VerifySignature(context.Background(), token)
	assert.Error(t, err)
}

func TestDecrypter(t *testing.T) {
	encKey := testutil.GenerateRSAKey(t)
	jws := testutil.SignJWT(t, testutil.GenerateRSAKey(t), jose.RS256, "", map[string]any{"sub": "x"})
	jwe := testutil.EncryptJWT(t, jws, &encKey.PublicKey)

	assert.True(t, IsEncrypted(jwe))
	assert.False(t, IsEncrypted(jws))

	d := NewDecrypter(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: encKey, KeyID: "enc"}}}, nil, nil)
	plain, err := d.Decrypt(jwe)
	require.NoError(t, err)
	assert.Equal(t, jws, string(plain))

	wrong := NewDecrypter(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: testutil.GenerateRSAKey(t)}}}, nil, nil)
	_, err = wrong.Decrypt(jwe)
	assert.Error(t, err)
}
