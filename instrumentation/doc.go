// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the
// authorization-server engine.
//
// Every engine component accepts an optional *Instrumentation. When absent, the
// component records nothing; when present, it records metrics and spans through
// the configured providers.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-authorization-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//		TracerProvider: sdktrace.NewTracerProvider(...),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// Authorization endpoint:
//   - oauth.authorization.requests.total{client_id, outcome}
//   - oauth.authorization.decisions.total{client_id, decision}
//   - oauth.authorization.prompt_redirects.total{prompt}
//
// Token endpoint:
//   - oauth.token.requests.total{grant_type, success}
//   - oauth.token.issued.total{client_id, token_type, grant_type}
//   - oauth.client.registered.total{token_endpoint_auth_method}
//
// Security:
//   - oauth.client.authentications.total{method, success}
//   - oauth.rate_limit.exceeded.total{limiter_type}
//   - oauth.pkce.validation_failed.total{method}
//   - oauth.code.reuse_detected.total
//   - oauth.token.reuse_detected.total
//   - oauth.assertion.replays.total
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - oauth.storage.operations.total{operation, result}
//   - oauth.storage.operation.duration{operation}
//   - oauth.storage.{clients,access_tokens,refresh_tokens,authorization_codes,authorization_flows}.count
//
// # Security
//
// Span attributes carry identifiers and outcomes only. Credentials (tokens,
// codes, secrets, assertions) are never recorded.
package instrumentation
