package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization Endpoint Metrics
	AuthorizationRequests  metric.Int64Counter
	AuthorizationDecisions metric.Int64Counter
	PromptRedirects        metric.Int64Counter

	// Token Endpoint Metrics
	TokenRequests    metric.Int64Counter
	TokensIssued     metric.Int64Counter
	ClientRegistered metric.Int64Counter

	// Security Metrics
	ClientAuthentications metric.Int64Counter
	RateLimitExceeded     metric.Int64Counter
	PKCEValidationFailed  metric.Int64Counter
	CodeReuseDetected     metric.Int64Counter
	TokenReuseDetected    metric.Int64Counter
	AssertionReplays      metric.Int64Counter
	AuditEventsTotal      metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageClientsCount       metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageFlowsCount         metric.Int64ObservableGauge
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	authzMeter := inst.Meter("authorization")
	tokenMeter := inst.Meter("token")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationRequests, authzMeter, "oauth.authorization.requests.total", "Authorization endpoint invocations by outcome", "{request}"},
		{&m.AuthorizationDecisions, authzMeter, "oauth.authorization.decisions.total", "Completed authorization flows by decision", "{decision}"},
		{&m.PromptRedirects, authzMeter, "oauth.authorization.prompt_redirects.total", "Redirects to login, consent or account selection", "{redirect}"},
		{&m.TokenRequests, tokenMeter, "oauth.token.requests.total", "Token endpoint requests by grant type and outcome", "{request}"},
		{&m.TokensIssued, tokenMeter, "oauth.token.issued.total", "Tokens issued by type and grant type", "{token}"},
		{&m.ClientRegistered, tokenMeter, "oauth.client.registered.total", "Client registrations", "{client}"},
		{&m.ClientAuthentications, securityMeter, "oauth.client.authentications.total", "Client authentication attempts by method and result", "{attempt}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded.total", "Rate limit violations", "{violation}"},
		{&m.PKCEValidationFailed, securityMeter, "oauth.pkce.validation_failed.total", "PKCE validation failures", "{failure}"},
		{&m.CodeReuseDetected, securityMeter, "oauth.code.reuse_detected.total", "Authorization code reuse attempts", "{attempt}"},
		{&m.TokenReuseDetected, securityMeter, "oauth.token.reuse_detected.total", "Refresh token reuse attempts", "{attempt}"},
		{&m.AssertionReplays, securityMeter, "oauth.assertion.replays.total", "Replayed client assertions", "{attempt}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Audit events by type", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "oauth.storage.operations.total", "Storage operations by operation and result", "{operation}"},
	}

	var err error
	for _, c := range counters {
		*c.target, err = c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		target *metric.Int64ObservableGauge
		name   string
		desc   string
	}{
		{&m.StorageClientsCount, "oauth.storage.clients.count", "Number of registered clients"},
		{&m.StorageAccessTokensCount, "oauth.storage.access_tokens.count", "Number of stored access tokens"},
		{&m.StorageRefreshTokensCount, "oauth.storage.refresh_tokens.count", "Number of stored refresh tokens"},
		{&m.StorageCodesCount, "oauth.storage.authorization_codes.count", "Number of stored authorization codes"},
		{&m.StorageFlowsCount, "oauth.storage.authorization_flows.count", "Number of in-flight authorization flows"},
	}
	for _, g := range gauges {
		*g.target, err = storageMeter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationRequest records one authorization endpoint invocation.
// outcome is one of "redirect", "decided", "error".
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, clientID, outcome string) {
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("outcome", outcome),
	))
}

// RecordAuthorizationDecision records the final decision of an authorization flow
func (m *Metrics) RecordAuthorizationDecision(ctx context.Context, clientID, decision string) {
	m.AuthorizationDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("decision", decision),
	))
}

// RecordPromptRedirect records a redirect to an external UI handler
func (m *Metrics) RecordPromptRedirect(ctx context.Context, prompt string) {
	m.PromptRedirects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("prompt", prompt),
	))
}

// RecordTokenRequest records a token endpoint request
func (m *Metrics) RecordTokenRequest(ctx context.Context, grantType string, success bool) {
	m.TokenRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.Bool("success", success),
	))
}

// RecordTokenIssued records an issued token
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, tokenType, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("token_type", tokenType),
		attribute.String("grant_type", grantType),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, authMethod string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_endpoint_auth_method", authMethod),
	))
}

// RecordClientAuthentication records a client authentication attempt
func (m *Metrics) RecordClientAuthentication(ctx context.Context, method string, success bool) {
	m.ClientAuthentications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a refresh token reuse attempt
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordAssertionReplay records a rejected replayed client assertion
func (m *Metrics) RecordAssertionReplay(ctx context.Context) {
	m.AssertionReplays.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
