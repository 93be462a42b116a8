package authmethod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/keyset"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// AssertionType is the client_assertion_type of JWT client assertions (RFC 7523 section 2.2)
const AssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// DefaultAssertionLeeway tolerates clock skew on exp, nbf and iat
const DefaultAssertionLeeway = 30 * time.Second

var mandatoryClaims = []string{"iss", "sub", "aud", "exp"}

const errDescDecryption = "The encryption of the assertion is mandatory but the decryption of the assertion failed."

// EncryptionSupport describes the optional JWE layer around assertions.
type EncryptionSupport struct {
	Decrypter *keyset.Decrypter
	// Required rejects assertions that are not encrypted.
	Required bool
}

// Assertion is a parsed, not yet verified, JWT assertion.
type Assertion struct {
	// Token is the compact JWS after decryption
	Token    string
	Claims   map[string]any
	Issuer   string
	Subject  string
	Audience []string
	Expiry   time.Time
	JTI      string
}

// AssertionVerifierConfig configures an AssertionVerifier.
type AssertionVerifierConfig struct {
	// Audience lists the acceptable aud values, typically the issuer and the
	// token endpoint URL. At least one must appear in the assertion.
	Audience   []string
	Encryption EncryptionSupport
	// TrustedIssuers enables federated assertions (iss != sub). Nil disables them.
	TrustedIssuers *TrustedIssuerRegistry
	// RemoteKeySets resolves jwks_uri; nil disables remote key sets.
	RemoteKeySets *keyset.RemoteCache
	// JTIStore rejects replayed assertions when set.
	JTIStore   storage.JTIStore
	RequireJTI bool
	// SecretAlgorithms and KeyAlgorithms restrict client_secret_jwt and
	// private_key_jwt signatures.
	SecretAlgorithms []jose.SignatureAlgorithm
	KeyAlgorithms    []jose.SignatureAlgorithm
	// MaxLifetime bounds exp - now; 0 disables the bound.
	MaxLifetime time.Duration
	Leeway      time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// AssertionVerifier parses and verifies JWT assertions for client
// authentication and for the jwt-bearer grant.
type AssertionVerifier struct {
	cfg AssertionVerifierConfig
}

// NewAssertionVerifier creates a verifier
func NewAssertionVerifier(cfg AssertionVerifierConfig) *AssertionVerifier {
	if len(cfg.SecretAlgorithms) == 0 {
		cfg.SecretAlgorithms = keyset.HMACAlgorithms
	}
	if len(cfg.KeyAlgorithms) == 0 {
		cfg.KeyAlgorithms = keyset.AsymmetricAlgorithms
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = DefaultAssertionLeeway
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AssertionVerifier{cfg: cfg}
}

// TrustedIssuers returns the trusted issuer registry, possibly nil
func (v *AssertionVerifier) TrustedIssuers() *TrustedIssuerRegistry {
	return v.cfg.TrustedIssuers
}

// Parse decrypts token when needed and validates its claims without checking
// the signature. Failures are invalid_request errors.
func (v *AssertionVerifier) Parse(token string) (*Assertion, error) {
	if keyset.IsEncrypted(token) {
		if v.cfg.Encryption.Decrypter == nil {
			return nil, oautherr.InvalidRequest("Encrypted assertions are not supported.")
		}
		plaintext, err := v.cfg.Encryption.Decrypter.Decrypt(token)
		if err != nil {
			if v.cfg.Encryption.Required {
				return nil, oautherr.InvalidRequest(errDescDecryption)
			}
			return nil, oautherr.InvalidRequest("Unable to decrypt the assertion.")
		}
		token = string(plaintext)
	} else if v.cfg.Encryption.Required {
		return nil, oautherr.InvalidRequest(errDescDecryption)
	}

	algorithms := append(slices.Clone(v.cfg.SecretAlgorithms), v.cfg.KeyAlgorithms...)
	parsed, err := jwt.ParseSigned(token, algorithms)
	if err != nil {
		return nil, oautherr.InvalidRequest("Unable to parse the assertion.")
	}

	claims := map[string]any{}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, oautherr.InvalidRequest("Unable to parse the assertion claims.")
	}
	for _, name := range mandatoryClaims {
		if _, ok := claims[name]; !ok {
			return nil, oautherr.InvalidRequest(`The following claim(s) is/are mandatory: "iss", "sub", "aud", "exp".`)
		}
	}

	var registered jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&registered); err != nil {
		return nil, oautherr.InvalidRequest("Unable to parse the assertion claims.")
	}
	if registered.Issuer == "" || registered.Subject == "" {
		return nil, oautherr.InvalidRequest("The claims \"iss\" and \"sub\" must be non-empty strings.")
	}

	now := v.cfg.Now()
	if err := registered.ValidateWithLeeway(jwt.Expected{Time: now}, v.cfg.Leeway); err != nil {
		return nil, oautherr.InvalidRequest(fmt.Sprintf("The assertion is not valid: %s.", claimError(err)))
	}
	if v.cfg.MaxLifetime > 0 && registered.Expiry.Time().After(now.Add(v.cfg.MaxLifetime)) {
		return nil, oautherr.InvalidRequest("The assertion lifetime is too long.")
	}
	if len(v.cfg.Audience) > 0 && !audienceMatches(registered.Audience, v.cfg.Audience) {
		return nil, oautherr.InvalidRequest("The assertion audience does not include this server.")
	}
	if v.cfg.RequireJTI && registered.ID == "" {
		return nil, oautherr.InvalidRequest("The claim \"jti\" is mandatory.")
	}

	return &Assertion{
		Token:    token,
		Claims:   claims,
		Issuer:   registered.Issuer,
		Subject:  registered.Subject,
		Audience: registered.Audience,
		Expiry:   registered.Expiry.Time(),
		JTI:      registered.ID,
	}, nil
}

// Verify checks the signature of a. A federated assertion (iss != sub, or
// iss naming a trusted issuer) is checked against the trusted issuer's keys.
// Otherwise iss must be client and the client's own key material is used.
func (v *AssertionVerifier) Verify(ctx context.Context, a *Assertion, client *storage.Client) error {
	ks, err := v.keySetFor(a, client)
	if err != nil {
		return err
	}
	if _, err := ks.VerifySignature(ctx, a.Token); err != nil {
		return fmt.Errorf("assertion signature verification failed: %w", err)
	}
	if a.JTI != "" && v.cfg.JTIStore != nil {
		if err := v.cfg.JTIStore.MarkJTIUsed(ctx, a.Issuer, a.JTI, a.Expiry); err != nil {
			return fmt.Errorf("assertion rejected: %w", err)
		}
	}
	return nil
}

func (v *AssertionVerifier) keySetFor(a *Assertion, client *storage.Client) (keyset.KeySet, error) {
	if issuer, ok := v.cfg.TrustedIssuers.Get(a.Issuer); ok {
		return issuer.keySet(), nil
	}
	if client == nil || a.Issuer != client.ID {
		return nil, errors.New("assertion issuer is neither the client nor a trusted issuer")
	}
	return v.clientKeySet(client)
}

func (v *AssertionVerifier) clientKeySet(client *storage.Client) (keyset.KeySet, error) {
	if client.TokenEndpointAuthMethod() == MethodClientSecretJWT {
		secret := client.Parameters.GetString(storage.ParamClientSecret)
		if secret == "" {
			return nil, errors.New("client has no shared secret")
		}
		return keyset.RestrictAlgorithms(keyset.NewSecretKeySet([]byte(secret)), v.cfg.SecretAlgorithms), nil
	}

	if raw, ok := client.Parameters.Get(storage.ParamJWKS); ok {
		set, err := keyset.ParseJWKS(raw)
		if err != nil {
			return nil, err
		}
		return keyset.NewStaticKeySet(set, v.cfg.KeyAlgorithms), nil
	}
	if uri := client.Parameters.GetString(storage.ParamJWKSURI); uri != "" {
		if v.cfg.RemoteKeySets == nil {
			return nil, errors.New("remote key sets are disabled")
		}
		return keyset.RestrictAlgorithms(v.cfg.RemoteKeySets.Get(uri), v.cfg.KeyAlgorithms), nil
	}
	return nil, errors.New("client has no public keys")
}

// ClientAssertionJWT authenticates clients with a signed JWT
// (client_secret_jwt and private_key_jwt, RFC 7523 section 2.2).
type ClientAssertionJWT struct {
	verifier       *AssertionVerifier
	secretLifetime time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewClientAssertionJWT creates the method over verifier
func NewClientAssertionJWT(verifier *AssertionVerifier, secretLifetime time.Duration) *ClientAssertionJWT {
	return &ClientAssertionJWT{
		verifier:       verifier,
		secretLifetime: secretLifetime,
		now:            verifier.cfg.Now,
		logger:         verifier.cfg.Logger,
	}
}

// Verifier returns the underlying assertion verifier
func (c *ClientAssertionJWT) Verifier() *AssertionVerifier {
	return c.verifier
}

// SupportedMethods implements Method
func (*ClientAssertionJWT) SupportedMethods() []string {
	return []string{MethodClientSecretJWT, MethodPrivateKeyJWT}
}

// SchemesParameters implements Method
func (*ClientAssertionJWT) SchemesParameters() []string { return nil }

// FindClientIDAndCredentials parses client_assertion. The client identifier
// is the assertion subject.
func (c *ClientAssertionJWT) FindClientIDAndCredentials(r *http.Request) (string, any, bool, error) {
	assertionType := r.PostFormValue(ParamClientAssertionType)
	token := r.PostFormValue(ParamClientAssertion)
	if assertionType == "" && token == "" {
		return "", nil, false, nil
	}
	if assertionType != AssertionType {
		return "", nil, false, oautherr.InvalidRequest(fmt.Sprintf("The parameter \"client_assertion_type\" must be %q.", AssertionType))
	}
	if token == "" {
		return "", nil, false, oautherr.InvalidRequest("The parameter \"client_assertion\" is missing.")
	}

	assertion, err := c.verifier.Parse(token)
	if err != nil {
		return "", nil, false, err
	}
	return assertion.Subject, assertion, true, nil
}

// IsClientAuthenticated verifies the assertion signature
func (c *ClientAssertionJWT) IsClientAuthenticated(ctx context.Context, _ *http.Request, client *storage.Client, credentials any) bool {
	assertion, ok := credentials.(*Assertion)
	if !ok {
		return false
	}
	if err := c.verifier.Verify(ctx, assertion, client); err != nil {
		c.logger.DebugContext(ctx, "Client assertion rejected", "client_id", client.ID, "error", err)
		return false
	}
	return true
}

// CheckClientConfiguration issues a secret for client_secret_jwt and
// requires exactly one of jwks and jwks_uri for private_key_jwt.
func (c *ClientAssertionJWT) CheckClientConfiguration(command, validated databag.DataBag) (databag.DataBag, error) {
	switch validated.GetString(storage.ParamTokenEndpointAuthMethod) {
	case MethodClientSecretJWT:
		return secretConfiguration(command, validated, c.secretLifetime, c.now)
	case MethodPrivateKeyJWT:
		return checkKeyMaterial(command, validated)
	default:
		return validated, nil
	}
}

func checkKeyMaterial(command, validated databag.DataBag) (databag.DataBag, error) {
	jwks, hasJWKS := command.Get(storage.ParamJWKS)
	jwksURI := command.GetString(storage.ParamJWKSURI)
	if hasJWKS == (jwksURI != "") {
		return databag.DataBag{}, oautherr.InvalidClientMetadata("Exactly one of the parameters \"jwks\" and \"jwks_uri\" must be set.")
	}

	if hasJWKS {
		set, err := keyset.ParseJWKS(jwks)
		if err != nil {
			return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"jwks\" must be a valid JSON Web Key Set.")
		}
		for _, k := range set.Keys {
			if !k.IsPublic() {
				return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"jwks\" must only contain public keys.")
			}
		}
		raw, err := json.Marshal(set)
		if err != nil {
			return databag.DataBag{}, fmt.Errorf("failed to encode jwks: %w", err)
		}
		return validated.With(storage.ParamJWKS, string(raw)).Without(storage.ParamJWKSURI), nil
	}

	u, err := url.Parse(jwksURI)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"jwks_uri\" must be an absolute https URI.")
	}
	if util.IsInternalHostname(u.Hostname()) {
		return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"jwks_uri\" must not point to an internal host.")
	}
	return validated.With(storage.ParamJWKSURI, jwksURI).Without(storage.ParamJWKS), nil
}

func audienceMatches(got jwt.Audience, accepted []string) bool {
	for _, a := range accepted {
		if got.Contains(a) {
			return true
		}
	}
	return false
}

func claimError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "it has expired"
	case errors.Is(err, jwt.ErrNotValidYet):
		return "it is not valid yet"
	case errors.Is(err, jwt.ErrIssuedInTheFuture):
		return "it was issued in the future"
	default:
		return strings.TrimPrefix(err.Error(), "go-jose/go-jose/jwt: ")
	}
}
