package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-engine/clientregistration"
	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/response"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// maxRegistrationBodySize bounds client registration requests (64KB)
const maxRegistrationBodySize = 64 * 1024

// Handler is a thin HTTP adapter for the authorization Server.
// It handles HTTP concerns (rate limiting, security headers, request IDs)
// and delegates to the Server's endpoints for the OAuth logic.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = server.Logger
	}

	h := &Handler{
		server: server,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("http"),
	}
	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}
	return h
}

// RegisterRoutes registers every endpoint on mux, wrapped with request ID propagation.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	cfg := h.server.Config
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, security.RequestIDMiddleware(fn))
	}

	handle(cfg.AuthorizationPath, h.ServeAuthorization)
	handle(cfg.TokenPath, h.ServeToken)
	handle(cfg.JWKSPath, h.ServeJWKS)
	handle(cfg.RegistrationPath, h.ServeClientRegistration)
	handle(cfg.RegistrationPath+"/{client_id}", h.ServeClientConfiguration)
	handle("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	handle("/.well-known/openid-configuration", h.ServeAuthorizationServerMetadata)
}

// ServeAuthorization handles authorization requests and resumes interactive
// flows after the login, account selection or consent UI.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(r.Context(), "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.server.Authorization.Process(r.Context(), r)
	if err != nil {
		h.logger.DebugContext(r.Context(), "Authorization request rejected", "error", err)
		resp = h.server.Authorization.ErrorResponse(err)
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	resp.Write(w)
	h.recordHTTPMetrics(r.Context(), "authorize", r.Method, resp.Status, startTime)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(r.Context(), "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP, "token") {
		h.recordHTTPMetrics(r.Context(), "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	resp, err := h.server.Token.Handle(r.Context(), r)
	if err != nil {
		resp = h.server.Token.ErrorResponse(err)
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	resp.Write(w)
	h.recordHTTPMetrics(r.Context(), "token", r.Method, resp.Status, startTime)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.client_registration")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	instrumentation.AddSecurityAttributes(span, clientIP)
	if h.checkIPRateLimit(w, r, clientIP, "registration") {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	ownerID, err := h.registrationOwner(r, true)
	if err == nil {
		var command databag.DataBag
		if command, err = decodeClientMetadata(r); err == nil {
			var reg *clientregistration.Registration
			if reg, err = h.server.Registration.Register(ctx, command, ownerID); err == nil {
				instrumentation.SetSpanAttributes(span, attribute.String("oauth.client_id", reg.Client.ID))
				instrumentation.SetSpanSuccess(span)
				h.writeClient(w, http.StatusCreated, reg.Client, reg.ClientSecret)
				h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusCreated, startTime)
				return
			}
		}
	}

	instrumentation.RecordError(span, err)
	status := h.writeError(w, r, err)
	h.recordHTTPMetrics(ctx, "register", r.Method, status, startTime)
}

// ServeClientConfiguration reads, updates or deletes a registered client
// (RFC 7592). Only the owner of the client may manage it.
func (h *Handler) ServeClientConfiguration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()
	clientID := r.PathValue("client_id")

	ownerID, err := h.registrationOwner(r, false)
	if err != nil {
		status := h.writeError(w, r, err)
		h.recordHTTPMetrics(ctx, "client_configuration", r.Method, status, startTime)
		return
	}

	status := http.StatusOK
	switch r.Method {
	case http.MethodGet:
		var client *storage.Client
		if client, err = h.server.Registration.Get(ctx, clientID, ownerID); err == nil {
			h.writeClient(w, status, client, "")
		}
	case http.MethodPut:
		var command databag.DataBag
		if command, err = decodeClientMetadata(r); err == nil {
			var reg *clientregistration.Registration
			if reg, err = h.server.Registration.Update(ctx, clientID, command, ownerID); err == nil {
				h.writeClient(w, status, reg.Client, reg.ClientSecret)
			}
		}
	case http.MethodDelete:
		if err = h.server.Registration.Delete(ctx, clientID, ownerID); err == nil {
			status = http.StatusNoContent
			w.WriteHeader(status)
		}
	default:
		status = http.StatusMethodNotAllowed
		http.Error(w, "Method not allowed", status)
	}
	if err != nil {
		status = h.writeError(w, r, err)
	}
	h.recordHTTPMetrics(ctx, "client_configuration", r.Method, status, startTime)
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server
// Metadata. The same document answers OpenID Connect Discovery requests.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.server.Metadata())
}

// ServeJWKS publishes the ID token verification keys
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.server.PublicJWKS())
}

// registrationOwner authenticates the initial access token and returns the
// owner it stands for. An anonymous caller owns nothing; it may only
// register, and only when public registration is allowed.
func (h *Handler) registrationOwner(r *http.Request, registering bool) (string, error) {
	token, ok := bearerToken(r)
	if !ok {
		if registering && h.server.Config.Registration.AllowPublicRegistration {
			return "", nil
		}
		return "", errRegistrationUnauthorized
	}

	for _, allowed := range h.server.Config.Registration.InitialAccessTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			sum := sha256.Sum256([]byte(token))
			return "iat:" + hex.EncodeToString(sum[:8]), nil
		}
	}
	h.server.Auditor.LogEvent(r.Context(), security.Event{
		Type:      security.EventInvalidRegistrationToken,
		IPAddress: h.clientIP(r),
	})
	return "", errRegistrationUnauthorized
}

var errRegistrationUnauthorized = errors.New("missing or invalid initial access token")

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func decodeClientMetadata(r *http.Request) (databag.DataBag, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRegistrationBodySize+1))
	if err != nil {
		return databag.DataBag{}, oautherr.InvalidClientMetadata("The request body could not be read.")
	}
	if len(body) > maxRegistrationBodySize {
		return databag.DataBag{}, oautherr.InvalidClientMetadata("The client metadata is too large.")
	}
	var metadata map[string]any
	if err := json.Unmarshal(body, &metadata); err != nil {
		return databag.DataBag{}, oautherr.InvalidClientMetadata("The client metadata must be a JSON object.")
	}
	return databag.New(metadata), nil
}

// writeClient writes the client information response (RFC 7591 section 3.2.1).
// Secrets are only returned in clear when they were just issued.
func (h *Handler) writeClient(w http.ResponseWriter, status int, client *storage.Client, clientSecret string) {
	body := client.Parameters.
		Without(storage.ParamClientSecret).
		Without(storage.ParamClientSecretHash).
		All()
	body["client_id"] = client.ID
	body["client_id_issued_at"] = client.CreatedAt.Unix()
	if clientSecret != "" {
		body[storage.ParamClientSecret] = clientSecret
		if _, ok := body[storage.ParamClientSecretExpiresAt]; !ok {
			body[storage.ParamClientSecretExpiresAt] = 0
		}
	}
	h.writeJSON(w, status, body)
}

// writeError renders err and returns the status written
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) int {
	var resp *response.Response
	switch {
	case errors.Is(err, errRegistrationUnauthorized):
		resp = response.Error(oautherr.New("invalid_token", "A valid initial access token is required.", http.StatusUnauthorized))
		resp.Header.Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case errors.Is(err, clientregistration.ErrClientOwnership):
		h.logger.WarnContext(r.Context(), "Client managed by a non-owner", "ip", h.clientIP(r), "error", err)
		resp = response.Error(oautherr.New(oautherr.CodeAccessDenied, "The client belongs to another owner.", http.StatusForbidden))
	default:
		if oautherr.From(err).Code == oautherr.CodeServerError {
			h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		}
		resp = response.Error(err)
	}
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	resp.Write(w)
	return resp.Status
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	resp, err := response.JSON(status, v)
	if err != nil {
		h.logger.Error("Failed to encode response", "error", err)
		resp = response.Error(oautherr.ServerError("The response could not be encoded."))
	}
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	resp.Write(w)
}

func (h *Handler) clientIP(r *http.Request) string {
	cfg := h.server.Config.RateLimit
	return security.GetClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.WarnContext(r.Context(), "Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(r.Context(), clientIP, endpoint)

	resp := response.Error(oautherr.RateLimitExceeded("Rate limit exceeded. Please try again later."))
	resp.Header.Set("Retry-After", "60")
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	resp.Write(w)
	return true
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := float64(time.Since(startTime).Microseconds()) / 1000.0
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
