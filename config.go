package oauth

import (
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/security"
)

// Default endpoint paths, relative to the issuer
const (
	DefaultAuthorizationPath = "/oauth/authorize"
	DefaultTokenPath         = "/oauth/token"
	DefaultRegistrationPath  = "/oauth/register"
	DefaultJWKSPath          = "/oauth/jwks"
)

// Default lifetimes and limits
const (
	DefaultAuthorizationCodeLifetime = 10 * time.Minute
	DefaultAccessTokenLifetime       = time.Hour
	DefaultRefreshTokenLifetime      = 30 * 24 * time.Hour
	DefaultIDTokenLifetime           = time.Hour
	DefaultFlowLifetime              = 10 * time.Minute
	DefaultAssertionMaxLifetime      = time.Hour
	DefaultAssertionLeeway           = 30 * time.Second
	DefaultJWKSHTTPTimeout           = 10 * time.Second
	DefaultJWKSCacheSize             = 100
	DefaultRateLimit                 = 10
	DefaultRateLimitBurst            = 20
	DefaultTrustedProxyCount         = 1
)

// Config holds the authorization server configuration.
// Structured using composition; zero values get secure defaults.
type Config struct {
	// Issuer is the server's issuer identifier (https URL without query or fragment)
	Issuer string

	// Endpoint paths relative to the issuer. Defaults: DefaultAuthorizationPath, etc.
	AuthorizationPath string
	TokenPath         string
	RegistrationPath  string
	JWKSPath          string

	// Lifetimes of issued credentials. Clients may override them within
	// MaxTokenLifetimes through their registration metadata.
	Lifetimes LifetimeConfig

	// Scopes configures scope resolution
	Scopes ScopeConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Assertions configures JWT client assertions and the jwt-bearer grant
	Assertions AssertionConfig

	// RateLimit configures the per-IP limiter of the token and registration endpoints
	RateLimit RateLimitConfig

	// Registration configures dynamic client registration
	Registration RegistrationConfig

	// SigningKey signs ID tokens. A nil key makes NewServer generate an
	// ephemeral RSA key, which invalidates ID tokens on every restart.
	SigningKey crypto.Signer

	// SigningAlgorithm is the JWS algorithm of ID tokens. Default: RS256
	SigningAlgorithm jose.SignatureAlgorithm

	// CleanupInterval is how often the in-memory store evicts expired entries.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient fetches remote JWK sets. Default: pooled client with JWKSHTTPTimeout
	HTTPClient *http.Client
}

// LifetimeConfig holds the default credential lifetimes
type LifetimeConfig struct {
	AuthorizationCode time.Duration
	AccessToken       time.Duration
	RefreshToken      time.Duration
	IDToken           time.Duration

	// Flow bounds how long an interactive authorization flow may wait for the UI
	Flow time.Duration

	// MaxTokenLifetimes bounds the per-client overrides, keyed by client
	// parameter (e.g. storage.ParamAccessTokenLifetime). Missing keys are unbounded.
	MaxTokenLifetimes map[string]time.Duration
}

// ScopeConfig holds scope resolution settings
type ScopeConfig struct {
	// Policy applies when a request omits scope. Default: scope.PolicyDefault
	Policy scope.Policy

	// Supported lists every scope the server grants. Empty means unrestricted.
	Supported []string

	// Default is granted when a request omits scope and the client has no default_scope
	Default []string
}

// SecurityConfig holds OAuth security settings (secure by default)
type SecurityConfig struct {
	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	AllowPKCEPlain bool

	// DisablePKCERequirement makes code_challenge optional for the code flow.
	// WARNING: Only for legacy clients.
	DisablePKCERequirement bool

	// AllowResponseModeParameter lets requests pick any response mode
	// compatible with their response type.
	AllowResponseModeParameter bool

	// DisableRefreshTokenRotation keeps refresh tokens valid after use.
	// WARNING: Stolen tokens remain usable until they expire.
	DisableRefreshTokenRotation bool

	// RequireOfflineAccess issues refresh tokens only when offline_access was granted
	RequireOfflineAccess bool

	// EncryptionKey is the AES-256 key (32 bytes) for secrets and flows at rest.
	// Nil disables encryption.
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging (sensitive data hashed)
	EnableAuditLogging bool

	// BlockedRedirectSchemes overrides rulechain.DefaultBlockedSchemes
	BlockedRedirectSchemes []string
}

// AssertionConfig holds JWT assertion settings
type AssertionConfig struct {
	// TrustedIssuers may sign assertions on behalf of clients
	TrustedIssuers []authmethod.TrustedIssuer

	// DecryptionKeys decrypt JWE-wrapped assertions. Empty disables decryption.
	DecryptionKeys jose.JSONWebKeySet

	// RequireEncryption rejects assertions that are not encrypted
	RequireEncryption bool

	// RequireJTI rejects assertions without a jti claim
	RequireJTI bool

	// MaxLifetime bounds exp - now. Default: DefaultAssertionMaxLifetime
	MaxLifetime time.Duration

	// Leeway tolerates clock skew on exp/nbf/iat. Default: DefaultAssertionLeeway
	Leeway time.Duration

	// JWKSHTTPTimeout bounds remote key set fetches. Default: DefaultJWKSHTTPTimeout
	JWKSHTTPTimeout time.Duration

	// JWKSCacheSize bounds the number of cached remote key sets
	JWKSCacheSize int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Negative disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the server
	TrustedProxyCount int
}

// RegistrationConfig holds dynamic client registration settings
type RegistrationConfig struct {
	// AllowPublicRegistration permits registration without an initial access token.
	// WARNING: Can enable DoS via mass registration.
	AllowPublicRegistration bool

	// InitialAccessTokens are the bearer tokens accepted by the registration
	// endpoint. Each token owns the clients registered with it.
	InitialAccessTokens []string
}

// applySecureDefaults fills unset fields in place
func (c *Config) applySecureDefaults() {
	c.Issuer = strings.TrimSuffix(c.Issuer, "/")

	if c.AuthorizationPath == "" {
		c.AuthorizationPath = DefaultAuthorizationPath
	}
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.RegistrationPath == "" {
		c.RegistrationPath = DefaultRegistrationPath
	}
	if c.JWKSPath == "" {
		c.JWKSPath = DefaultJWKSPath
	}

	if c.Lifetimes.AuthorizationCode == 0 {
		c.Lifetimes.AuthorizationCode = DefaultAuthorizationCodeLifetime
	}
	if c.Lifetimes.AccessToken == 0 {
		c.Lifetimes.AccessToken = DefaultAccessTokenLifetime
	}
	if c.Lifetimes.RefreshToken == 0 {
		c.Lifetimes.RefreshToken = DefaultRefreshTokenLifetime
	}
	if c.Lifetimes.IDToken == 0 {
		c.Lifetimes.IDToken = DefaultIDTokenLifetime
	}
	if c.Lifetimes.Flow == 0 {
		c.Lifetimes.Flow = DefaultFlowLifetime
	}

	if c.Scopes.Policy == "" {
		c.Scopes.Policy = scope.PolicyDefault
	}

	if c.SigningAlgorithm == "" {
		c.SigningAlgorithm = jose.RS256
	}

	if c.Assertions.MaxLifetime == 0 {
		c.Assertions.MaxLifetime = DefaultAssertionMaxLifetime
	}
	if c.Assertions.Leeway == 0 {
		c.Assertions.Leeway = DefaultAssertionLeeway
	}
	if c.Assertions.JWKSHTTPTimeout == 0 {
		c.Assertions.JWKSHTTPTimeout = DefaultJWKSHTTPTimeout
	}
	if c.Assertions.JWKSCacheSize == 0 {
		c.Assertions.JWKSCacheSize = DefaultJWKSCacheSize
	}

	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = DefaultRateLimit
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.TrustedProxyCount == 0 {
		c.RateLimit.TrustedProxyCount = DefaultTrustedProxyCount
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Issuer == "" {
		result = multierror.Append(result, errors.New("issuer is required"))
	} else if u, err := url.Parse(c.Issuer); err != nil {
		result = multierror.Append(result, fmt.Errorf("issuer is not a valid URL: %w", err))
	} else {
		if u.Scheme != "https" && !isLoopbackHost(u.Hostname()) {
			result = multierror.Append(result, fmt.Errorf("issuer must use https, got %q", u.Scheme))
		}
		if u.RawQuery != "" || u.Fragment != "" {
			result = multierror.Append(result, errors.New("issuer must not contain a query or fragment"))
		}
	}

	for name, path := range map[string]string{
		"authorization path": c.AuthorizationPath,
		"token path":         c.TokenPath,
		"registration path":  c.RegistrationPath,
		"JWKS path":          c.JWKSPath,
	} {
		if path != "" && !strings.HasPrefix(path, "/") {
			result = multierror.Append(result, fmt.Errorf("%s must start with /: %q", name, path))
		}
	}

	for name, d := range map[string]time.Duration{
		"authorization code lifetime": c.Lifetimes.AuthorizationCode,
		"access token lifetime":       c.Lifetimes.AccessToken,
		"refresh token lifetime":      c.Lifetimes.RefreshToken,
		"ID token lifetime":           c.Lifetimes.IDToken,
		"flow lifetime":               c.Lifetimes.Flow,
	} {
		if d < 0 {
			result = multierror.Append(result, fmt.Errorf("%s must not be negative", name))
		}
	}

	switch c.Scopes.Policy {
	case "", scope.PolicyNone, scope.PolicyDefault, scope.PolicyError:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown scope policy %q", c.Scopes.Policy))
	}
	if len(c.Scopes.Supported) > 0 {
		for _, s := range c.Scopes.Default {
			if !scope.Contains(c.Scopes.Supported, s) {
				result = multierror.Append(result, fmt.Errorf("default scope %q is not a supported scope", s))
			}
		}
	}

	if len(c.Security.EncryptionKey) > 0 && len(c.Security.EncryptionKey) != security.EncryptionKeySize {
		result = multierror.Append(result, fmt.Errorf("encryption key must be %d bytes, got %d", security.EncryptionKeySize, len(c.Security.EncryptionKey)))
	}

	if c.Assertions.RequireEncryption && len(c.Assertions.DecryptionKeys.Keys) == 0 {
		result = multierror.Append(result, errors.New("assertion encryption is required but no decryption key is configured"))
	}
	for _, issuer := range c.Assertions.TrustedIssuers {
		if issuer.Name == "" || issuer.KeySet == nil {
			result = multierror.Append(result, fmt.Errorf("trusted issuer %q needs a name and a key set", issuer.Name))
		}
	}

	if c.RateLimit.TrustedProxyCount < 0 {
		result = multierror.Append(result, errors.New("trusted proxy count must not be negative"))
	}

	for i, token := range c.Registration.InitialAccessTokens {
		if len(token) < 32 {
			result = multierror.Append(result, fmt.Errorf("initial access token %d is shorter than 32 characters", i))
		}
	}

	return result.ErrorOrNil()
}

// AuthorizationEndpoint returns the absolute authorization endpoint URL
func (c *Config) AuthorizationEndpoint() string {
	return c.Issuer + c.AuthorizationPath
}

// TokenEndpoint returns the absolute token endpoint URL
func (c *Config) TokenEndpoint() string {
	return c.Issuer + c.TokenPath
}

// RegistrationEndpoint returns the absolute registration endpoint URL
func (c *Config) RegistrationEndpoint() string {
	return c.Issuer + c.RegistrationPath
}

// JWKSURI returns the absolute URL of the ID token signing keys
func (c *Config) JWKSURI() string {
	return c.Issuer + c.JWKSPath
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
