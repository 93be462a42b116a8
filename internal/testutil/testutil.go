// Package testutil provides testing utilities and fixtures for the engine packages.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Issuer is the authorization server identifier used across tests
const Issuer = "https://as.example.com"

// TokenEndpoint is the token endpoint URL used as assertion audience in tests
const TokenEndpoint = Issuer + "/oauth/token"

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair returns an S256 challenge and the verifier it was derived from.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// NewClient builds a client with sensible registration defaults; params
// override or extend them. A "client_secret" parameter is also stored as a
// bcrypt hash so secret-based methods authenticate.
func NewClient(t testing.TB, id string, params map[string]any) *storage.Client {
	t.Helper()

	values := map[string]any{
		storage.ParamTokenEndpointAuthMethod: "client_secret_basic",
		storage.ParamRedirectURIs:            []string{"https://client.example.com/callback"},
		storage.ParamGrantTypes:              []string{"authorization_code", "refresh_token"},
		storage.ParamResponseTypes:           []string{"code"},
	}
	for k, v := range params {
		if v == nil {
			delete(values, k)
			continue
		}
		values[k] = v
	}
	if secret, ok := values[storage.ParamClientSecret].(string); ok && secret != "" {
		values[storage.ParamClientSecretHash] = HashSecret(t, secret)
	}

	now := time.Now()
	return &storage.Client{
		ID:         id,
		Parameters: databag.New(values),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HashSecret returns a low-cost bcrypt hash suitable for tests
func HashSecret(t testing.TB, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(hash)
}

// GenerateRSAKey creates a 2048-bit RSA key
func GenerateRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// GenerateECKey creates a P-256 key
func GenerateECKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate EC key: %v", err)
	}
	return key
}

// PublicJWKS returns the JSON JWK set holding the public part of key under kid.
func PublicJWKS(t testing.TB, key any, kid string) string {
	t.Helper()
	var pub any
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pub = &k.PublicKey
	case *ecdsa.PrivateKey:
		pub = &k.PublicKey
	default:
		pub = key
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: pub, KeyID: kid, Use: "sig"}}}
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}
	return string(raw)
}

// AssertionClaims returns a complete claim set for a client assertion
// issued by clientID and addressed to the test token endpoint.
func AssertionClaims(clientID string, now time.Time) map[string]any {
	return map[string]any{
		"iss": clientID,
		"sub": clientID,
		"aud": TokenEndpoint,
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
		"jti": GenerateRandomString(16),
	}
}

// SignJWT signs claims with key using alg. kid may be empty.
func SignJWT(t testing.TB, key any, alg jose.SignatureAlgorithm, kid string, claims map[string]any) string {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if kid != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), kid)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key}, opts)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("failed to sign JWT: %v", err)
	}
	return token
}

// EncryptJWT wraps a compact JWS into a JWE addressed to the RSA public key.
func EncryptJWT(t testing.TB, jws string, recipient *rsa.PublicKey) string {
	t.Helper()
	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: recipient},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		t.Fatalf("failed to create encrypter: %v", err)
	}
	obj, err := encrypter.Encrypt([]byte(jws))
	if err != nil {
		t.Fatalf("failed to encrypt JWT: %v", err)
	}
	out, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize JWE: %v", err)
	}
	return out
}

// NewJWKSServer serves body as a JWK set document
func NewJWKSServer(t testing.TB, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// FormRequest is a helper for building form-encoded test requests
type FormRequest struct {
	method string
	target string
	form   url.Values
	header http.Header
}

// NewFormRequest creates a request builder. GET requests carry the form in
// the query string, other methods in an application/x-www-form-urlencoded body.
func NewFormRequest(method, target string) *FormRequest {
	return &FormRequest{
		method: method,
		target: target,
		form:   url.Values{},
		header: http.Header{},
	}
}

// With sets a form parameter
func (r *FormRequest) With(key, value string) *FormRequest {
	r.form.Set(key, value)
	return r
}

// WithHeader adds a header to the request
func (r *FormRequest) WithHeader(key, value string) *FormRequest {
	r.header.Add(key, value)
	return r
}

// WithBasicAuth sets HTTP Basic credentials
func (r *FormRequest) WithBasicAuth(username, password string) *FormRequest {
	creds := url.QueryEscape(username) + ":" + url.QueryEscape(password)
	r.header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	return r
}

// Build returns the *http.Request
func (r *FormRequest) Build() *http.Request {
	var req *http.Request
	if r.method == http.MethodGet {
		target := r.target
		if len(r.form) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + r.form.Encode()
		}
		req = httptest.NewRequest(r.method, target, nil)
	} else {
		req = httptest.NewRequest(r.method, r.target, strings.NewReader(r.form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, values := range r.header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return req
}
