package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.0.2.1:4321",
			want:       "192.0.2.1",
		},
		{
			name:       "forwarded header ignored without trust",
			remoteAddr: "192.0.2.1:4321",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "192.0.2.1",
		},
		{
			name:       "single trusted proxy",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "spoofed leftmost entry is skipped",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "6.6.6.6, 203.0.113.9, 10.0.0.2"},
			trustProxy: true,
			proxyCount: 1,
			want:       "203.0.113.9",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			trustProxy: true,
			want:       "198.51.100.7",
		},
		{
			name:       "invalid forwarded value falls back to remote addr",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			trustProxy: true,
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncryptor_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	sealed, err := enc.Encrypt("client-secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed == "client-secret" {
		t.Fatal("Encrypt() returned plaintext")
	}

	again, _ := enc.Encrypt("client-secret")
	if again == sealed {
		t.Error("two encryptions of the same value must differ (random nonce)")
	}

	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "client-secret" {
		t.Errorf("Decrypt() = %q", plain)
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor(nil) error = %v", err)
	}
	if enc.IsEnabled() {
		t.Fatal("empty key must produce a disabled encryptor")
	}
	out, _ := enc.Encrypt("x")
	if out != "x" {
		t.Errorf("disabled Encrypt() = %q, want passthrough", out)
	}

	var nilEnc *Encryptor
	if nilEnc.IsEnabled() {
		t.Error("nil encryptor must report disabled")
	}
}

func TestEncryptor_Errors(t *testing.T) {
	if _, err := NewEncryptor([]byte("short")); err == nil {
		t.Error("NewEncryptor() should reject short keys")
	}

	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)
	if _, err := enc.Decrypt("!!!"); err == nil {
		t.Error("Decrypt() should reject invalid base64")
	}
	if _, err := enc.Open([]byte{1, 2}); err == nil {
		t.Error("Open() should reject truncated ciphertext")
	}

	otherKey, _ := GenerateKey()
	other, _ := NewEncryptor(otherKey)
	sealed, _ := enc.Encrypt("x")
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("Decrypt() with the wrong key must fail")
	}
}

func TestKeyFromBase64(t *testing.T) {
	if _, err := KeyFromBase64("AAAA"); err == nil {
		t.Error("KeyFromBase64() should reject short keys")
	}
	if _, err := KeyFromBase64("%%%"); err == nil {
		t.Error("KeyFromBase64() should reject invalid base64")
	}
	key, err := KeyFromBase64(strings.Repeat("A", 43) + "=")
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if len(key) != EncryptionKeySize {
		t.Errorf("len(key) = %d", len(key))
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	if IsExpired(time.Time{}, now) {
		t.Error("zero time never expires")
	}
	if IsExpired(now.Add(-2*time.Second), now) {
		t.Error("expiry within the grace period should not count as expired")
	}
	if !IsExpired(now.Add(-time.Minute), now) {
		t.Error("expiry a minute ago should be expired")
	}
	if !IsExpiredWithGracePeriod(now.Add(-time.Second), now, 0) {
		t.Error("without grace period a past expiry is expired")
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "https://auth.example.com")

	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
		"Pragma":                 "no-cache",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be set for https issuers")
	}

	plain := httptest.NewRecorder()
	SetSecurityHeaders(plain, "http://localhost:8080")
	if plain.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be set for http issuers")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("valid upstream id is preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if seen != "abc-123" || w.Header().Get(RequestIDHeader) != "abc-123" {
			t.Errorf("request id = %q / %q", seen, w.Header().Get(RequestIDHeader))
		}
	})

	t.Run("injected id is replaced", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "bad\r\nSet-Cookie: x")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if seen == "" || strings.ContainsAny(seen, "\r\n") {
			t.Errorf("request id = %q", seen)
		}
	})
}

func TestAuditor_HashesUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	a := NewAuditor(logger, true)

	ctx := WithRequestID(context.Background(), "req-1")
	a.LogAuthorizationDecision(ctx, "alice@example.com", "client-1", false, "openid")

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Error("user id must not be logged in clear")
	}
	for _, want := range []string{EventAuthorizationDenied, "client-1", "req-1", hashForLogging("alice@example.com")} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output missing %q: %s", want, out)
		}
	}
}

func TestAuditor_DisabledAndNil(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), false)
	a.LogClientAuthFailure(context.Background(), "c", "client_secret_basic", "bad secret")
	if buf.Len() != 0 {
		t.Error("disabled auditor must not log")
	}

	var nilAuditor *Auditor
	nilAuditor.LogRateLimitExceeded(context.Background(), "1.2.3.4", "token")
}

func TestHashForLogging(t *testing.T) {
	if hashForLogging("") != "<empty>" {
		t.Error("empty input should be marked")
	}
	h := hashForLogging("user")
	if len(h) != 16 || h != hashForLogging("user") {
		t.Errorf("hash = %q, want stable 16 chars", h)
	}
}
