package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth2-engine/instrumentation"
)

// Event type constants for security audit logging.
const (
	// Token endpoint events
	EventTokenIssued              = "token_issued"
	EventTokenRefreshed           = "token_refreshed"
	EventCodeReuseDetected        = "authorization_code_reuse_detected"
	EventRefreshTokenReuse        = "refresh_token_reuse_detected" //nolint:gosec // event name, not a credential
	EventPKCEValidationFailed     = "pkce_validation_failed"
	EventClientAuthFailure        = "client_auth_failure"
	EventAssertionReplay          = "client_assertion_replay"
	EventResourceOwnerAuthFailure = "resource_owner_auth_failure"

	// Authorization endpoint events
	EventAuthorizationCodeIssued = "authorization_code_issued"
	EventAuthorizationAllowed    = "authorization_allowed"
	EventAuthorizationDenied     = "authorization_denied"

	// Client registration events
	EventClientRegistered           = "client_registered"
	EventClientUpdated              = "client_updated"
	EventClientDeleted              = "client_deleted"
	EventClientRegistrationRejected = "client_registration_rejected"
	EventInvalidRegistrationToken   = "invalid_registration_token"

	// Abuse protection
	EventRateLimitExceeded = "rate_limit_exceeded"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger          *slog.Logger
	enabled         bool
	instrumentation *instrumentation.Instrumentation
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetInstrumentation makes the auditor count events in oauth.audit.events.total
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
// A nil Auditor is valid and logs nothing.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.InfoContext(ctx, "security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"request_id", GetRequestID(ctx),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(ctx, event.Type)
	}
}

// LogTokenIssued logs when a token is issued at the token endpoint
func (a *Auditor) LogTokenIssued(ctx context.Context, userID, clientID, grantType, scope string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogClientAuthFailure logs a failed client authentication.
// reason is internal and never returned to the client.
func (a *Auditor) LogClientAuthFailure(ctx context.Context, clientID, method, reason string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientAuthFailure,
		ClientID: clientID,
		Details: map[string]any{
			"method": method,
			"reason": reason,
		},
	})
}

// LogAuthorizationDecision logs the outcome of a browser authorization flow
func (a *Auditor) LogAuthorizationDecision(ctx context.Context, userID, clientID string, allowed bool, scope string) {
	eventType := EventAuthorizationDenied
	if allowed {
		eventType = EventAuthorizationAllowed
	}
	a.LogEvent(ctx, Event{
		Type:     eventType,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeReuse logs an authorization code presented a second time
func (a *Auditor) LogCodeReuse(ctx context.Context, userID, clientID string, revokedTokens int) {
	a.LogEvent(ctx, Event{
		Type:     EventCodeReuseDetected,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"revoked_tokens": revokedTokens,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, limiter string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"limiter": limiter,
		},
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(ctx context.Context, clientID, authMethod, ownerID string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientRegistered,
		UserID:   ownerID,
		ClientID: clientID,
		Details: map[string]any{
			"token_endpoint_auth_method": authMethod,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
