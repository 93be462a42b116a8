package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/time/rate"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/authorizationendpoint"
	"github.com/giantswarm/oauth2-engine/clientregistration"
	"github.com/giantswarm/oauth2-engine/granttype"
	"github.com/giantswarm/oauth2-engine/idtoken"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/keyset"
	"github.com/giantswarm/oauth2-engine/pkce"
	"github.com/giantswarm/oauth2-engine/responsemode"
	"github.com/giantswarm/oauth2-engine/responsetype"
	"github.com/giantswarm/oauth2-engine/rulechain"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/tokenendpoint"
)

// Storage is the full set of repositories the server needs. Both
// storage/memory and storage/valkey implement it.
type Storage interface {
	storage.ClientRepository
	storage.AuthorizationCodeRepository
	storage.AccessTokenRepository
	storage.RefreshTokenRepository
	storage.TokenRevocationStore
	storage.AuthorizationRequestStorage
	storage.UserAccountRepository
	storage.ConsentRepository
	storage.JTIStore
}

// Interaction connects the authorization endpoint to the hosting
// application's login, account selection and consent pages.
type Interaction struct {
	Login         authorizationendpoint.LoginHandler
	SelectAccount authorizationendpoint.SelectAccountHandler
	Consent       authorizationendpoint.ConsentHandler

	// Sessions resolves the user already signed in to the browser. Optional.
	Sessions authorizationendpoint.CurrentUserResolver

	// BrowserState returns the OP browser state used for session_state.
	// Optional; without it no session_state is returned.
	BrowserState func(*http.Request) string
}

// Server assembles the engine components into an authorization server.
// It coordinates the OAuth flows; Handler adapts it to net/http.
type Server struct {
	Config *Config
	Store  Storage

	Authorization *authorizationendpoint.Endpoint
	Token         *tokenendpoint.Endpoint
	Registration  *clientregistration.Service

	AuthMethods   *authmethod.Manager
	GrantTypes    *granttype.Manager
	ResponseTypes *responsetype.Manager
	ResponseModes *responsemode.Manager
	PKCE          *pkce.Manager
	Scopes        *scope.Manager
	IDTokens      *idtoken.Builder

	Encryptor       *security.Encryptor
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// NewServer validates cfg and wires every component on top of store.
// inst may be nil to disable metrics and tracing.
func NewServer(store Storage, interaction Interaction, cfg *Config, inst *instrumentation.Instrumentation) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if interaction.Login == nil || interaction.Consent == nil {
		return nil, fmt.Errorf("login and consent handlers are required")
	}
	if interaction.SelectAccount == nil {
		interaction.SelectAccount = interaction.Login
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applySecureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := cfg.Logger

	s := &Server{
		Config:          cfg,
		Store:           store,
		Instrumentation: inst,
		Logger:          logger,
	}

	var err error
	if s.Encryptor, err = security.NewEncryptor(cfg.Security.EncryptionKey); err != nil {
		return nil, err
	}
	s.Auditor = security.NewAuditor(logger, cfg.Security.EnableAuditLogging)
	s.Auditor.SetInstrumentation(inst)
	if cfg.RateLimit.Rate > 0 {
		s.RateLimiter = security.NewRateLimiter(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst, logger)
	}
	s.configureStore()

	if s.Scopes, err = scope.NewManager(cfg.Scopes.Policy, scope.StaticRepository(cfg.Scopes.Supported), cfg.Scopes.Default); err != nil {
		return nil, fmt.Errorf("invalid scope configuration: %w", err)
	}
	if err := s.buildIDTokens(); err != nil {
		return nil, err
	}

	verifier := s.buildAssertionVerifier()
	s.AuthMethods = authmethod.NewManager(
		authmethod.None{},
		authmethod.NewClientSecretBasic(cfg.Issuer, 0),
		authmethod.NewClientSecretPost(0),
		authmethod.NewClientAssertionJWT(verifier, 0),
	)
	s.AuthMethods.SetLogger(logger)
	s.AuthMethods.SetAuditor(s.Auditor)
	s.AuthMethods.SetInstrumentation(inst)

	s.PKCE = pkce.DefaultManager(cfg.Security.AllowPKCEPlain)
	s.GrantTypes = granttype.NewManager(
		granttype.NewAuthorizationCode(granttype.AuthorizationCodeConfig{
			Codes:           store,
			PKCE:            s.PKCE,
			Revocation:      store,
			Logger:          logger,
			Auditor:         s.Auditor,
			Instrumentation: inst,
		}),
		granttype.NewRefreshToken(granttype.RefreshTokenConfig{
			Tokens:          store,
			Rotation:        !cfg.Security.DisableRefreshTokenRotation,
			Revocation:      store,
			Logger:          logger,
			Auditor:         s.Auditor,
			Instrumentation: inst,
		}),
		granttype.ClientCredentials{},
		granttype.NewPassword(store, s.Auditor, logger),
		granttype.NewJWTBearer(verifier),
		granttype.Implicit{},
	)

	s.ResponseTypes = s.buildResponseTypes()
	s.ResponseModes = responsemode.DefaultManager()

	s.Token = tokenendpoint.New(tokenendpoint.Config{
		Clients:       store,
		AccessTokens:  store,
		RefreshTokens: store,
		AuthMethods:   s.AuthMethods,
		GrantTypes:    s.GrantTypes,
		Extensions: []tokenendpoint.Extension{
			tokenendpoint.NewScopePolicyExtension(s.Scopes),
			tokenendpoint.NewRefreshTokenIssuanceExtension(cfg.Security.RequireOfflineAccess),
			tokenendpoint.NewOpenIDConnectExtension(s.IDTokens, store),
		},
		AccessTokenLifetime:  cfg.Lifetimes.AccessToken,
		RefreshTokenLifetime: cfg.Lifetimes.RefreshToken,
		Logger:               logger,
		Auditor:              s.Auditor,
		Instrumentation:      inst,
	})

	var extensions []authorizationendpoint.AfterConsentExtension
	if interaction.BrowserState != nil {
		extensions = append(extensions, authorizationendpoint.SessionStateParameterExtension{BrowserState: interaction.BrowserState})
	}
	s.Authorization = authorizationendpoint.New(authorizationendpoint.Config{
		Clients:  store,
		Users:    store,
		Requests: store,
		Checkers: authorization.DefaultParameterCheckerManager(authorization.CheckerConfig{
			ResponseTypes:              s.ResponseTypes,
			ResponseModes:              s.ResponseModes,
			AllowResponseModeParameter: cfg.Security.AllowResponseModeParameter,
			Scopes:                     s.Scopes,
		}),
		Hooks:           authorizationendpoint.DefaultHooks(interaction.Login, interaction.SelectAccount, interaction.Consent, store, nil),
		Extensions:      extensions,
		Consents:        store,
		Sessions:        interaction.Sessions,
		FlowLifetime:    cfg.Lifetimes.Flow,
		Logger:          logger,
		Auditor:         s.Auditor,
		Instrumentation: inst,
	})

	s.Registration = clientregistration.New(clientregistration.Config{
		Clients: store,
		Rules: rulechain.DefaultManager(rulechain.Config{
			GrantTypes:     s.GrantTypes,
			ResponseTypes:  s.ResponseTypes,
			AuthMethods:    s.AuthMethods,
			Scopes:         s.Scopes,
			BlockedSchemes: cfg.Security.BlockedRedirectSchemes,
			MaxLifetimes:   cfg.Lifetimes.MaxTokenLifetimes,
		}),
		Logger:          logger,
		Auditor:         s.Auditor,
		Instrumentation: inst,
	})

	logger.Info("Authorization server initialized",
		"issuer", cfg.Issuer,
		"grant_types", s.GrantTypes.Names(),
		"response_types", s.ResponseTypes.Names(),
		"auth_methods", s.AuthMethods.Names(),
		"encryption", s.Encryptor.IsEnabled())

	return s, nil
}

// configureStore hands the shared logger, encryptor and instrumentation to
// stores that accept them.
func (s *Server) configureStore() {
	if st, ok := s.Store.(interface{ SetLogger(*slog.Logger) }); ok {
		st.SetLogger(s.Logger)
	}
	if st, ok := s.Store.(interface{ SetEncryptor(*security.Encryptor) }); ok && s.Encryptor.IsEnabled() {
		st.SetEncryptor(s.Encryptor)
	}
	if st, ok := s.Store.(interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}); ok && s.Instrumentation != nil {
		st.SetInstrumentation(s.Instrumentation)
	}
}

func (s *Server) buildIDTokens() error {
	key := s.Config.SigningKey
	if key == nil {
		s.Logger.Warn("No ID token signing key configured, generating an ephemeral RSA key")
		generated, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		key = generated
	}
	signer, err := idtoken.NewSigner(key, s.Config.SigningAlgorithm)
	if err != nil {
		return fmt.Errorf("invalid ID token signing key: %w", err)
	}
	s.IDTokens = idtoken.NewBuilder(s.Config.Issuer, signer, s.Config.Lifetimes.IDToken)
	return nil
}

func (s *Server) buildAssertionVerifier() *authmethod.AssertionVerifier {
	cfg := s.Config
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = keyset.NewHTTPClient(cfg.Assertions.JWKSHTTPTimeout)
	}

	var trusted *authmethod.TrustedIssuerRegistry
	if len(cfg.Assertions.TrustedIssuers) > 0 {
		trusted = authmethod.NewTrustedIssuerRegistry(cfg.Assertions.TrustedIssuers...)
	}
	encryption := authmethod.EncryptionSupport{Required: cfg.Assertions.RequireEncryption}
	if len(cfg.Assertions.DecryptionKeys.Keys) > 0 {
		encryption.Decrypter = keyset.NewDecrypter(cfg.Assertions.DecryptionKeys, nil, nil)
	}

	return authmethod.NewAssertionVerifier(authmethod.AssertionVerifierConfig{
		Audience:       []string{cfg.Issuer, cfg.TokenEndpoint()},
		Encryption:     encryption,
		TrustedIssuers: trusted,
		RemoteKeySets:  keyset.NewRemoteCache(httpClient, cfg.Assertions.JWKSCacheSize),
		JTIStore:       s.Store,
		RequireJTI:     cfg.Assertions.RequireJTI,
		MaxLifetime:    cfg.Assertions.MaxLifetime,
		Leeway:         cfg.Assertions.Leeway,
		Logger:         s.Logger,
	})
}

func (s *Server) buildResponseTypes() *responsetype.Manager {
	code := responsetype.NewCode(responsetype.CodeConfig{
		Codes:       s.Store,
		PKCE:        s.PKCE,
		RequirePKCE: !s.Config.Security.DisablePKCERequirement,
		Lifetime:    s.Config.Lifetimes.AuthorizationCode,
	})
	token := responsetype.NewToken(responsetype.TokenConfig{
		AccessTokens: s.Store,
		Lifetime:     s.Config.Lifetimes.AccessToken,
	})
	idToken := responsetype.NewIDToken(s.IDTokens)

	return responsetype.NewManager(
		code,
		token,
		idToken,
		responsetype.None{},
		responsetype.NewMultiple(code, idToken),
		responsetype.NewMultiple(code, token),
		responsetype.NewMultiple(idToken, token),
		responsetype.NewMultiple(code, idToken, token),
	)
}

// Metadata returns the discovery document of the server
func (s *Server) Metadata() AuthorizationServerMetadata {
	algorithms := make([]string, 0, len(keyset.AsymmetricAlgorithms)+len(keyset.HMACAlgorithms))
	for _, alg := range append(append([]jose.SignatureAlgorithm{}, keyset.AsymmetricAlgorithms...), keyset.HMACAlgorithms...) {
		algorithms = append(algorithms, string(alg))
	}

	return AuthorizationServerMetadata{
		Issuer:                            s.Config.Issuer,
		AuthorizationEndpoint:             s.Config.AuthorizationEndpoint(),
		TokenEndpoint:                     s.Config.TokenEndpoint(),
		RegistrationEndpoint:              s.Config.RegistrationEndpoint(),
		JWKSURI:                           s.Config.JWKSURI(),
		ScopesSupported:                   s.Config.Scopes.Supported,
		ResponseTypesSupported:            s.ResponseTypes.Names(),
		ResponseModesSupported:            s.ResponseModes.Names(),
		GrantTypesSupported:               s.GrantTypes.Names(),
		TokenEndpointAuthMethodsSupported: s.AuthMethods.Names(),
		TokenEndpointAuthSigningAlgValuesSupported: algorithms,
		CodeChallengeMethodsSupported:              s.PKCE.Names(),
		SubjectTypesSupported:                      []string{"public"},
		IDTokenSigningAlgValuesSupported:           []string{string(s.IDTokens.Signer().Algorithm())},
		PromptValuesSupported: []string{
			authorization.PromptNone,
			authorization.PromptLogin,
			authorization.PromptConsent,
			authorization.PromptSelectAccount,
		},
	}
}

// PublicJWKS returns the keys relying parties verify ID tokens with
func (s *Server) PublicJWKS() jose.JSONWebKeySet {
	return s.IDTokens.Signer().PublicJWKS()
}

// Shutdown stops background workers and flushes telemetry
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
	if st, ok := s.Store.(interface{ Stop() }); ok {
		st.Stop()
	}
	if st, ok := s.Store.(interface{ Close() }); ok {
		st.Close()
	}
	if s.Instrumentation != nil {
		if err := s.Instrumentation.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down instrumentation: %w", err))
		}
	}
	return errors.Join(errs...)
}
