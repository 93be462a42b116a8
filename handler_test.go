package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/authorizationendpoint"
	"github.com/giantswarm/oauth2-engine/internal/testutil"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/memory"
)

const (
	ownerToken = "owner-token-0123456789abcdefghijklmnop"
	otherToken = "other-token-0123456789abcdefghijklmnop"
	callback   = "https://client.example.com/callback"
)

type testServer struct {
	server *Server
	mux    *http.ServeMux
	alice  *storage.UserAccount
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()

	store := memory.New()
	alice := &storage.UserAccount{ID: "alice", Username: "alice", Claims: map[string]any{"email": "alice@example.com"}}
	require.NoError(t, store.AddUserAccount(context.Background(), alice, "wonderland"))

	login, err := authorizationendpoint.NewRedirectHandler(testutil.Issuer + "/login")
	require.NoError(t, err)
	consent, err := authorizationendpoint.NewRedirectHandler(testutil.Issuer + "/consent")
	require.NoError(t, err)

	cfg := &Config{
		Issuer:     testutil.Issuer,
		SigningKey: testutil.GenerateRSAKey(t),
		Scopes: ScopeConfig{
			Supported: []string{"openid", "profile", "email", "offline_access", "api"},
			Default:   []string{"api"},
		},
		Registration: RegistrationConfig{InitialAccessTokens: []string{ownerToken, otherToken}},
	}
	if mutate != nil {
		mutate(cfg)
	}

	server, err := NewServer(store, Interaction{Login: login, Consent: consent}, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	NewHandler(server, nil).RegisterRoutes(mux)
	return &testServer{server: server, mux: mux, alice: alice}
}

func (ts *testServer) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, r)
	return w
}

func (ts *testServer) register(t *testing.T, token string, metadata map[string]any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(metadata)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, testutil.Issuer+DefaultRegistrationPath, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := ts.do(r)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func webClientMetadata() map[string]any {
	return map[string]any{
		"redirect_uris":              []string{callback},
		"token_endpoint_auth_method": "client_secret_basic",
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"scope":                      "openid email api",
		"client_name":                "Web App",
	}
}

func location(t *testing.T, w *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	u, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func TestHandler_CodeFlowEndToEnd(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	status, client := ts.register(t, ownerToken, webClientMetadata())
	require.Equal(t, http.StatusCreated, status, client)
	clientID, _ := client["client_id"].(string)
	clientSecret, _ := client["client_secret"].(string)
	require.NotEmpty(t, clientID)
	require.NotEmpty(t, clientSecret)
	assert.NotContains(t, client, storage.ParamClientSecretHash)

	challenge, verifier := testutil.GeneratePKCEPair()
	authorize := testutil.NewFormRequest(http.MethodGet, testutil.Issuer+DefaultAuthorizationPath).
		With("client_id", clientID).
		With("response_type", "code").
		With("redirect_uri", callback).
		With("scope", "openid email").
		With("state", "xyz").
		With("nonce", "n-0S6_WzA2Mj").
		With("code_challenge", challenge).
		With("code_challenge_method", "S256").
		Build()

	loginPage := location(t, ts.do(authorize))
	assert.Equal(t, "/login", loginPage.Path)
	flowID := loginPage.Query().Get(authorizationendpoint.ParamAuthorizationID)
	require.NoError(t, ts.server.Authorization.Login(ctx, flowID, ts.alice, time.Now()))

	resume := func() *httptest.ResponseRecorder {
		return ts.do(testutil.NewFormRequest(http.MethodGet, testutil.Issuer+DefaultAuthorizationPath).
			With(authorizationendpoint.ParamAuthorizationID, flowID).Build())
	}
	consentPage := location(t, resume())
	assert.Equal(t, "/consent", consentPage.Path)
	require.NoError(t, ts.server.Authorization.Allow(ctx, flowID, nil))

	redirect := location(t, resume())
	assert.Equal(t, "client.example.com", redirect.Host)
	assert.Equal(t, "xyz", redirect.Query().Get("state"))
	code := redirect.Query().Get("code")
	require.NotEmpty(t, code)

	w := ts.do(testutil.NewFormRequest(http.MethodPost, testutil.Issuer+DefaultTokenPath).
		WithBasicAuth(clientID, clientSecret).
		With("grant_type", "authorization_code").
		With("code", code).
		With("redirect_uri", callback).
		With("code_verifier", verifier).
		Build())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var tokens map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	assert.NotEmpty(t, tokens["access_token"])
	assert.Equal(t, "Bearer", tokens["token_type"])
	assert.Equal(t, "openid email", tokens["scope"])

	idToken, ok := tokens["id_token"].(string)
	require.True(t, ok, "id_token missing")
	parsed, err := jwt.ParseSigned(idToken, []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(t, err)
	claims := map[string]any{}
	require.NoError(t, parsed.Claims(ts.server.PublicJWKS().Keys[0].Key, &claims))
	assert.Equal(t, testutil.Issuer, claims["iss"])
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "n-0S6_WzA2Mj", claims["nonce"])

	// the code is single use
	w = ts.do(testutil.NewFormRequest(http.MethodPost, testutil.Issuer+DefaultTokenPath).
		WithBasicAuth(clientID, clientSecret).
		With("grant_type", "authorization_code").
		With("code", code).
		With("redirect_uri", callback).
		With("code_verifier", verifier).
		Build())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_grant")
}

func TestHandler_AuthorizationDirectError(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(testutil.NewFormRequest(http.MethodGet, testutil.Issuer+DefaultAuthorizationPath).
		With("client_id", "unknown").
		With("response_type", "code").
		With("redirect_uri", "https://evil.example.com/cb").
		Build())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), "invalid_request")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestHandler_TokenErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	status, client := ts.register(t, ownerToken, map[string]any{
		"redirect_uris":              []string{callback},
		"token_endpoint_auth_method": "none",
	})
	require.Equal(t, http.StatusCreated, status, client)
	clientID, _ := client["client_id"].(string)

	t.Run("basic credentials for a public client", func(t *testing.T) {
		w := ts.do(testutil.NewFormRequest(http.MethodPost, testutil.Issuer+DefaultTokenPath).
			WithBasicAuth(clientID, "guess").
			With("grant_type", "authorization_code").
			With("code", "whatever").
			Build())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_client")
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, testutil.Issuer+DefaultTokenPath, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandler_TokenRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Rate: 1, Burst: 1}
	})

	request := func() *httptest.ResponseRecorder {
		r := testutil.NewFormRequest(http.MethodPost, testutil.Issuer+DefaultTokenPath).
			With("grant_type", "client_credentials").
			Build()
		r.RemoteAddr = "192.0.2.10:5000"
		return ts.do(r)
	}

	assert.NotEqual(t, http.StatusTooManyRequests, request().Code)
	w := request()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestHandler_ClientRegistration(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("anonymous registration is rejected", func(t *testing.T) {
		status, body := ts.register(t, "", webClientMetadata())
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_token", body["error"])
	})

	t.Run("unknown initial access token", func(t *testing.T) {
		status, _ := ts.register(t, strings.Repeat("x", 40), webClientMetadata())
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("invalid metadata", func(t *testing.T) {
		metadata := webClientMetadata()
		metadata["redirect_uris"] = []string{"javascript:alert(1)"}
		status, body := ts.register(t, ownerToken, metadata)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_redirect_uri", body["error"])
	})

	status, client := ts.register(t, ownerToken, webClientMetadata())
	require.Equal(t, http.StatusCreated, status)
	clientID, _ := client["client_id"].(string)
	target := testutil.Issuer + DefaultRegistrationPath + "/" + clientID

	manage := func(method, token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, target, nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return ts.do(r)
	}

	t.Run("read by owner", func(t *testing.T) {
		w := manage(http.MethodGet, ownerToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, clientID, body["client_id"])
		assert.Equal(t, "Web App", body["client_name"])
		assert.NotContains(t, body, "client_secret")
		assert.NotContains(t, body, storage.ParamClientSecretHash)
	})

	t.Run("other owner is forbidden", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, manage(http.MethodGet, otherToken).Code)
		assert.Equal(t, http.StatusForbidden, manage(http.MethodDelete, otherToken).Code)
	})

	t.Run("management requires a token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, manage(http.MethodGet, "").Code)
	})

	t.Run("delete is soft", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, manage(http.MethodDelete, ownerToken).Code)
		assert.Equal(t, http.StatusUnauthorized, manage(http.MethodGet, ownerToken).Code)

		stored, err := ts.server.Store.FindClient(context.Background(), clientID)
		require.NoError(t, err)
		assert.True(t, stored.IsDeleted())
	})
}

func TestHandler_Discovery(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, testutil.Issuer+"/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var metadata AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metadata))
	assert.Equal(t, testutil.Issuer, metadata.Issuer)
	assert.Equal(t, testutil.Issuer+DefaultTokenPath, metadata.TokenEndpoint)
	assert.Equal(t, testutil.Issuer+DefaultJWKSPath, metadata.JWKSURI)
	assert.Contains(t, metadata.ResponseTypesSupported, "code")
	assert.Contains(t, metadata.ResponseTypesSupported, "code id_token")
	assert.Contains(t, metadata.GrantTypesSupported, "refresh_token")
	assert.Contains(t, metadata.TokenEndpointAuthMethodsSupported, "private_key_jwt")
	assert.Equal(t, []string{"S256"}, metadata.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"RS256"}, metadata.IDTokenSigningAlgValuesSupported)

	w = ts.do(httptest.NewRequest(http.MethodGet, testutil.Issuer+DefaultJWKSPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var jwks jose.JSONWebKeySet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.True(t, jwks.Keys[0].IsPublic())
}

func TestNewServer_Errors(t *testing.T) {
	login, err := authorizationendpoint.NewRedirectHandler(testutil.Issuer + "/login")
	require.NoError(t, err)

	_, err = NewServer(nil, Interaction{Login: login, Consent: login}, &Config{Issuer: testutil.Issuer}, nil)
	assert.Error(t, err)

	store := memory.New()
	defer store.Stop()
	_, err = NewServer(store, Interaction{}, &Config{Issuer: testutil.Issuer}, nil)
	assert.Error(t, err)

	_, err = NewServer(store, Interaction{Login: login, Consent: login}, &Config{Issuer: "http://as.example.com"}, nil)
	assert.ErrorContains(t, err, "issuer must use https")
}
