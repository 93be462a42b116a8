package authmethod

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/internal/testutil"
	"github.com/giantswarm/oauth2-engine/keyset"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/memory"
)

const (
	basicSecret = "basic-secret-value"
	postSecret  = "post-secret-value"
	jwtSecret   = "a-shared-secret-for-hmac-assertions-0123456789"
)

type fixture struct {
	store   *memory.Store
	manager *Manager
	rsaKey  any
}

func newFixture(t *testing.T, cfg AssertionVerifierConfig) *fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	if cfg.Audience == nil {
		cfg.Audience = []string{testutil.Issuer, testutil.TokenEndpoint}
	}
	if cfg.JTIStore == nil {
		cfg.JTIStore = store
	}
	key := testutil.GenerateRSAKey(t)

	clients := []*storage.Client{
		testutil.NewClient(t, "public", map[string]any{storage.ParamTokenEndpointAuthMethod: MethodNone}),
		testutil.NewClient(t, "basic", map[string]any{storage.ParamClientSecret: basicSecret}),
		testutil.NewClient(t, "post", map[string]any{storage.ParamTokenEndpointAuthMethod: MethodClientSecretPost, storage.ParamClientSecret: postSecret}),
		testutil.NewClient(t, "hmac", map[string]any{storage.ParamTokenEndpointAuthMethod: MethodClientSecretJWT, storage.ParamClientSecret: jwtSecret}),
		testutil.NewClient(t, "pkjwt", map[string]any{storage.ParamTokenEndpointAuthMethod: MethodPrivateKeyJWT, storage.ParamJWKS: testutil.PublicJWKS(t, key, "k1")}),
	}
	for _, c := range clients {
		require.NoError(t, store.SaveClient(context.Background(), c))
	}

	manager := NewManager(
		None{},
		NewClientSecretBasic("oauth2-engine", 0),
		NewClientSecretPost(0),
		NewClientAssertionJWT(NewAssertionVerifier(cfg), 0),
	)
	return &fixture{store: store, manager: manager, rsaKey: key}
}

func (f *fixture) authenticate(r *http.Request) (*storage.Client, error) {
	client, _, err := f.manager.Authenticate(context.Background(), r, f.store)
	return client, err
}

func hmacAssertion(t *testing.T, clientID string, mutate func(map[string]any)) string {
	claims := testutil.AssertionClaims(clientID, time.Now())
	if mutate != nil {
		mutate(claims)
	}
	return testutil.SignJWT(t, []byte(jwtSecret), jose.HS256, "", claims)
}

func tokenRequest() *testutil.FormRequest {
	return testutil.NewFormRequest(http.MethodPost, testutil.TokenEndpoint).With("grant_type", "client_credentials")
}

func withAssertion(r *testutil.FormRequest, assertion string) *testutil.FormRequest {
	return r.With(ParamClientAssertionType, AssertionType).With(ParamClientAssertion, assertion)
}

func TestAuthenticate_EachMethod(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})

	tests := []struct {
		name    string
		req     func() *http.Request
		want    string
		wantErr string
	}{
		{
			name: "none",
			req:  func() *http.Request { return tokenRequest().With("client_id", "public").Build() },
			want: "public",
		},
		{
			name: "client_secret_basic",
			req:  func() *http.Request { return tokenRequest().WithBasicAuth("basic", basicSecret).Build() },
			want: "basic",
		},
		{
			name:    "client_secret_basic wrong secret",
			req:     func() *http.Request { return tokenRequest().WithBasicAuth("basic", "nope").Build() },
			wantErr: oautherr.CodeInvalidClient,
		},
		{
			name: "client_secret_post",
			req: func() *http.Request {
				return tokenRequest().With("client_id", "post").With("client_secret", postSecret).Build()
			},
			want: "post",
		},
		{
			name: "client_secret_jwt",
			req:  func() *http.Request { return withAssertion(tokenRequest(), hmacAssertion(t, "hmac", nil)).Build() },
			want: "hmac",
		},
		{
			name: "private_key_jwt",
			req: func() *http.Request {
				assertion := testutil.SignJWT(t, f.rsaKey, jose.RS256, "k1", testutil.AssertionClaims("pkjwt", time.Now()))
				return withAssertion(tokenRequest(), assertion).Build()
			},
			want: "pkjwt",
		},
		{
			name:    "unknown client",
			req:     func() *http.Request { return tokenRequest().WithBasicAuth("ghost", "x").Build() },
			wantErr: oautherr.CodeInvalidClient,
		},
		{
			name:    "no credentials",
			req:     func() *http.Request { return tokenRequest().Build() },
			wantErr: oautherr.CodeInvalidClient,
		},
		{
			name: "method mismatch: post client via basic",
			req: func() *http.Request {
				return tokenRequest().WithBasicAuth("post", postSecret).Build()
			},
			wantErr: oautherr.CodeInvalidClient,
		},
		{
			name: "method mismatch: confidential client via none",
			req: func() *http.Request {
				return tokenRequest().With("client_id", "basic").Build()
			},
			wantErr: oautherr.CodeInvalidClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := f.authenticate(tt.req())
			if tt.wantErr != "" {
				require.Error(t, err)
				oe := oautherr.From(err)
				assert.Equal(t, tt.wantErr, oe.Code)
				if tt.wantErr == oautherr.CodeInvalidClient {
					assert.Equal(t, http.StatusUnauthorized, oe.Status)
					assert.Equal(t, "Client authentication failed.", oe.Description)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.ID)
		})
	}
}

// Basic credentials for a client registered with token_endpoint_auth_method=none
func TestAuthenticate_BasicForPublicClient(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})

	_, err := f.authenticate(tokenRequest().WithBasicAuth("public", "anything").Build())
	oe := oautherr.From(err)
	assert.Equal(t, oautherr.CodeInvalidClient, oe.Code)
	assert.Equal(t, http.StatusUnauthorized, oe.Status)
}

func TestFindClientIDAndCredentials_Exclusivity(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})

	type credential func(*testutil.FormRequest) *testutil.FormRequest
	basic := func(r *testutil.FormRequest) *testutil.FormRequest { return r.WithBasicAuth("hmac", basicSecret) }
	post := func(r *testutil.FormRequest) *testutil.FormRequest {
		return r.With("client_id", "hmac").With("client_secret", postSecret)
	}
	assertion := func(r *testutil.FormRequest) *testutil.FormRequest {
		return withAssertion(r, hmacAssertion(t, "hmac", nil))
	}
	methods := map[string]credential{"basic": basic, "post": post, "assertion": assertion}

	for nameA, a := range methods {
		for nameB, b := range methods {
			if nameA >= nameB {
				continue
			}
			t.Run(nameA+"+"+nameB, func(t *testing.T) {
				_, err := f.manager.FindClientIDAndCredentials(b(a(tokenRequest())).Build())
				require.Error(t, err)
				oe := oautherr.From(err)
				assert.Equal(t, oautherr.CodeInvalidRequest, oe.Code)
				assert.Equal(t, "Only one authentication method may be used to authenticate the client.", oe.Description)
			})
		}
	}

	t.Run("all three", func(t *testing.T) {
		_, err := f.manager.FindClientIDAndCredentials(basic(post(assertion(tokenRequest()))).Build())
		assert.True(t, oautherr.Is(err, oautherr.CodeInvalidRequest))
	})

	t.Run("none is exempt", func(t *testing.T) {
		res, err := f.manager.FindClientIDAndCredentials(tokenRequest().With("client_id", "hmac").WithBasicAuth("hmac", basicSecret).Build())
		require.NoError(t, err)
		assert.Equal(t, []string{MethodClientSecretBasic}, res.Method.SupportedMethods())
	})

	t.Run("mismatching client ids", func(t *testing.T) {
		_, err := f.manager.FindClientIDAndCredentials(tokenRequest().With("client_id", "other").WithBasicAuth("hmac", basicSecret).Build())
		assert.True(t, oautherr.Is(err, oautherr.CodeInvalidRequest))
	})
}

func TestAuthenticate_SoftDeletedClient(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})
	ctx := context.Background()

	requests := map[string]func() *http.Request{
		"public": func() *http.Request { return tokenRequest().With("client_id", "public").Build() },
		"basic":  func() *http.Request { return tokenRequest().WithBasicAuth("basic", basicSecret).Build() },
		"post": func() *http.Request {
			return tokenRequest().With("client_id", "post").With("client_secret", postSecret).Build()
		},
		"hmac": func() *http.Request { return withAssertion(tokenRequest(), hmacAssertion(t, "hmac", nil)).Build() },
	}

	for id, req := range requests {
		t.Run(id, func(t *testing.T) {
			_, err := f.authenticate(req())
			require.NoError(t, err, "authenticates before deletion")

			client, err := f.store.FindClient(ctx, id)
			require.NoError(t, err)
			client.Deleted = true
			require.NoError(t, f.store.SaveClient(ctx, client))

			_, err = f.authenticate(req())
			assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))
		})
	}
}

func TestAuthenticate_ExpiredCredentials(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})
	ctx := context.Background()

	client, err := f.store.FindClient(ctx, "basic")
	require.NoError(t, err)
	client.Parameters = client.Parameters.With(storage.ParamClientSecretExpiresAt, time.Now().Add(-time.Hour).Unix())
	require.NoError(t, f.store.SaveClient(ctx, client))

	_, err = f.authenticate(tokenRequest().WithBasicAuth("basic", basicSecret).Build())
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))
}

func TestAssertion_Claims(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})

	tests := []struct {
		name     string
		mutate   func(map[string]any)
		wantCode string
		wantDesc string
	}{
		{
			name:     "missing exp",
			mutate:   func(c map[string]any) { delete(c, "exp") },
			wantCode: oautherr.CodeInvalidRequest,
			wantDesc: `The following claim(s) is/are mandatory: "iss", "sub", "aud", "exp".`,
		},
		{
			name:     "missing aud",
			mutate:   func(c map[string]any) { delete(c, "aud") },
			wantCode: oautherr.CodeInvalidRequest,
			wantDesc: `The following claim(s) is/are mandatory: "iss", "sub", "aud", "exp".`,
		},
		{
			name:     "expired",
			mutate:   func(c map[string]any) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
			wantCode: oautherr.CodeInvalidRequest,
		},
		{
			name:     "not yet valid",
			mutate:   func(c map[string]any) { c["nbf"] = time.Now().Add(time.Hour).Unix() },
			wantCode: oautherr.CodeInvalidRequest,
		},
		{
			name:     "wrong audience",
			mutate:   func(c map[string]any) { c["aud"] = "https://other.example.com" },
			wantCode: oautherr.CodeInvalidRequest,
		},
		{
			name:     "issuer is not the client",
			mutate:   func(c map[string]any) { c["iss"] = "someone-else" },
			wantCode: oautherr.CodeInvalidClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.authenticate(withAssertion(tokenRequest(), hmacAssertion(t, "hmac", tt.mutate)).Build())
			require.Error(t, err)
			oe := oautherr.From(err)
			assert.Equal(t, tt.wantCode, oe.Code)
			if tt.wantDesc != "" {
				assert.Equal(t, tt.wantDesc, oe.Description)
			}
		})
	}

	t.Run("wrong assertion type", func(t *testing.T) {
		req := tokenRequest().With(ParamClientAssertionType, "urn:other").With(ParamClientAssertion, "x").Build()
		_, err := f.authenticate(req)
		assert.True(t, oautherr.Is(err, oautherr.CodeInvalidRequest))
	})
}

func TestAssertion_JTIReplay(t *testing.T) {
	f := newFixture(t, AssertionVerifierConfig{})
	assertion := hmacAssertion(t, "hmac", nil)

	_, err := f.authenticate(withAssertion(tokenRequest(), assertion).Build())
	require.NoError(t, err)

	_, err = f.authenticate(withAssertion(tokenRequest(), assertion).Build())
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))
}

func TestAssertion_Encryption(t *testing.T) {
	encKey := testutil.GenerateRSAKey(t)
	decrypter := keyset.NewDecrypter(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: encKey}}}, nil, nil)
	f := newFixture(t, AssertionVerifierConfig{Encryption: EncryptionSupport{Decrypter: decrypter, Required: true}})

	t.Run("encrypted assertion", func(t *testing.T) {
		jwe := testutil.EncryptJWT(t, hmacAssertion(t, "hmac", nil), &encKey.PublicKey)
		client, err := f.authenticate(withAssertion(tokenRequest(), jwe).Build())
		require.NoError(t, err)
		assert.Equal(t, "hmac", client.ID)
	})

	for name, assertion := range map[string]func() string{
		"plain assertion": func() string { return hmacAssertion(t, "hmac", nil) },
		"undecryptable": func() string {
			return testutil.EncryptJWT(t, hmacAssertion(t, "hmac", nil), &testutil.GenerateRSAKey(t).PublicKey)
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.authenticate(withAssertion(tokenRequest(), assertion()).Build())
			oe := oautherr.From(err)
			assert.Equal(t, oautherr.CodeInvalidRequest, oe.Code)
			assert.Equal(t, "The encryption of the assertion is mandatory but the decryption of the assertion failed.", oe.Description)
		})
	}
}

func TestAssertion_TrustedIssuer(t *testing.T) {
	idpKey := testutil.GenerateECKey(t)
	set, err := keyset.ParseJWKS(testutil.PublicJWKS(t, idpKey, "idp"))
	require.NoError(t, err)

	issuers := NewTrustedIssuerRegistry(TrustedIssuer{
		Name:       "https://idp.example.com",
		Algorithms: []jose.SignatureAlgorithm{jose.ES256},
		KeySet:     keyset.NewStaticKeySet(set, nil),
	})
	f := newFixture(t, AssertionVerifierConfig{TrustedIssuers: issuers})

	claims := testutil.AssertionClaims("pkjwt", time.Now())
	claims["iss"] = "https://idp.example.com"

	client, err := f.authenticate(withAssertion(tokenRequest(), testutil.SignJWT(t, idpKey, jose.ES256, "idp", claims)).Build())
	require.NoError(t, err)
	assert.Equal(t, "pkjwt", client.ID)

	claims["jti"] = "other"
	claims["iss"] = "https://untrusted.example.com"
	_, err = f.authenticate(withAssertion(tokenRequest(), testutil.SignJWT(t, idpKey, jose.ES256, "idp", claims)).Build())
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))
}

func TestAssertion_RemoteJWKS(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, testutil.PublicJWKS(t, key, "remote"))

	f := newFixture(t, AssertionVerifierConfig{RemoteKeySets: keyset.NewRemoteCache(keyset.NewHTTPClient(time.Second), 0)})
	require.NoError(t, f.store.SaveClient(context.Background(), testutil.NewClient(t, "remote", map[string]any{
		storage.ParamTokenEndpointAuthMethod: MethodPrivateKeyJWT,
		storage.ParamJWKSURI:                 srv.URL,
	})))

	assertion := testutil.SignJWT(t, key, jose.RS256, "remote", testutil.AssertionClaims("remote", time.Now()))
	client, err := f.authenticate(withAssertion(tokenRequest(), assertion).Build())
	require.NoError(t, err)
	assert.Equal(t, "remote", client.ID)
}

func TestCheckClientConfiguration(t *testing.T) {
	assertion := NewClientAssertionJWT(NewAssertionVerifier(AssertionVerifierConfig{}), 0)
	key := testutil.GenerateRSAKey(t)
	jwks := testutil.PublicJWKS(t, key, "k")

	t.Run("secret methods generate a secret", func(t *testing.T) {
		for _, m := range []Method{NewClientSecretBasic("r", time.Hour), NewClientSecretPost(0)} {
			out, err := m.CheckClientConfiguration(databag.DataBag{}, databag.DataBag{})
			require.NoError(t, err)
			assert.NotEmpty(t, out.GetString(storage.ParamClientSecret))
			assert.True(t, out.Has(storage.ParamClientSecretExpiresAt))

			again, err := m.CheckClientConfiguration(out, out)
			require.NoError(t, err)
			assert.Equal(t, out.All(), again.All(), "re-running keeps the secret")
		}
	})

	t.Run("none strips secrets", func(t *testing.T) {
		out, err := None{}.CheckClientConfiguration(databag.DataBag{}, databag.New(map[string]any{storage.ParamClientSecret: "x"}))
		require.NoError(t, err)
		assert.False(t, out.Has(storage.ParamClientSecret))
	})

	tests := []struct {
		name    string
		command map[string]any
		wantErr bool
	}{
		{name: "jwks", command: map[string]any{storage.ParamJWKS: jwks}},
		{name: "jwks_uri", command: map[string]any{storage.ParamJWKSURI: "https://client.example.com/jwks"}},
		{name: "neither", command: map[string]any{}, wantErr: true},
		{name: "both", command: map[string]any{storage.ParamJWKS: jwks, storage.ParamJWKSURI: "https://client.example.com/jwks"}, wantErr: true},
		{name: "http jwks_uri", command: map[string]any{storage.ParamJWKSURI: "http://client.example.com/jwks"}, wantErr: true},
		{name: "internal jwks_uri", command: map[string]any{storage.ParamJWKSURI: "https://169.254.169.254/jwks"}, wantErr: true},
		{name: "localhost jwks_uri", command: map[string]any{storage.ParamJWKSURI: "https://localhost/jwks"}, wantErr: true},
		{name: "garbage jwks", command: map[string]any{storage.ParamJWKS: "{}"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run("private_key_jwt "+tt.name, func(t *testing.T) {
			validated := databag.New(map[string]any{storage.ParamTokenEndpointAuthMethod: MethodPrivateKeyJWT})
			_, err := assertion.CheckClientConfiguration(databag.New(tt.command), validated)
			if tt.wantErr {
				assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClientMetadata), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("private key in jwks is rejected", func(t *testing.T) {
		private := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: key, KeyID: "k"}}}
		validated := databag.New(map[string]any{storage.ParamTokenEndpointAuthMethod: MethodPrivateKeyJWT})
		_, err := assertion.CheckClientConfiguration(databag.New(map[string]any{storage.ParamJWKS: private}), validated)
		assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClientMetadata))
	})
}

func TestManager_Registry(t *testing.T) {
	m := NewManager(None{}, NewClientSecretBasic("engine", 0), NewClientAssertionJWT(NewAssertionVerifier(AssertionVerifierConfig{}), 0))
	assert.Equal(t, []string{"client_secret_basic", "client_secret_jwt", "none", "private_key_jwt"}, m.Names())
	assert.True(t, m.Has(MethodPrivateKeyJWT))
	assert.False(t, m.Has(MethodClientSecretPost))
	assert.Equal(t, []string{`Basic realm="engine",charset="UTF-8"`}, m.SchemesParameters())
}
