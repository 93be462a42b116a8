// Package security provides the security plumbing around the authorization
// server: audit logging, rate limiting, encryption at rest, client IP
// extraction, request correlation and response hardening headers.
//
// # Audit Logging
//
// Auditor emits one structured slog record per security-relevant decision
// (client authentication failures, issued tokens, authorization decisions,
// code and refresh token reuse, replayed assertions). User identifiers are
// hashed before they are logged; credentials are never logged.
//
// # Rate Limiting
//
// RateLimiter provides per-identifier token bucket limiting with LRU eviction
// so a distributed attack cannot grow memory without bound:
//
//	limiter := security.NewRateLimiter(rate.Limit(10), 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // reply 429
//	}
//
// The same type throttles client registration with a slow refill rate, e.g.
// rate.Every(6*time.Minute) with a burst of 10 allows ten registrations per
// hour per IP.
package security
