package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/security"
)

// AccessToken is an issued access token.
type AccessToken struct {
	ID                  string
	ClientID            string
	ResourceOwnerID     string
	Scopes              []string
	Metadata            map[string]any
	Parameters          map[string]string
	IssuedAt            time.Time
	ExpiresAt           time.Time
	Revoked             bool
	AuthorizationCodeID string
	RefreshTokenID      string
}

// HasExpired reports whether the token expired at now.
func (t *AccessToken) HasExpired(now time.Time) bool {
	return hasExpired(t.ExpiresAt, now)
}

// RefreshToken is an issued refresh token.
type RefreshToken struct {
	ID                  string
	ClientID            string
	ResourceOwnerID     string
	Scopes              []string
	Metadata            map[string]any
	Parameters          map[string]string
	IssuedAt            time.Time
	ExpiresAt           time.Time
	Revoked             bool
	AuthorizationCodeID string
}

// HasExpired reports whether the token expired at now.
func (t *RefreshToken) HasExpired(now time.Time) bool {
	return hasExpired(t.ExpiresAt, now)
}

// AuthorizationCode is a one-time code issued by the authorization endpoint.
type AuthorizationCode struct {
	ID                  string
	ClientID            string
	ResourceOwnerID     string
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	QueryParameters     map[string]string
	Metadata            map[string]any
	IssuedAt            time.Time
	ExpiresAt           time.Time
	Used                bool
}

// HasExpired reports whether the code expired at now.
func (c *AuthorizationCode) HasExpired(now time.Time) bool {
	return hasExpired(c.ExpiresAt, now)
}

// UserAccount is a resource owner known to the server.
type UserAccount struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	Claims       map[string]any
	LastLoginAt  time.Time
}

// tokenIDBytes is the entropy of generated token and code identifiers
const tokenIDBytes = 32

// GenerateTokenID returns an unguessable base64url identifier for tokens and
// authorization codes. Repositories use it in their Create methods.
func GenerateTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token identifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hasExpired(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// SensitiveClientParameters lists client parameters encrypted at rest.
// client_secret is only stored in clear for client_secret_jwt clients, which
// need the raw value as an HMAC key.
var SensitiveClientParameters = []string{
	ParamClientSecret,
}

// EncryptClientParameters encrypts sensitive fields in the parameter bag.
// Returns a new bag; non-sensitive fields are copied as-is.
// If encryptor is nil or disabled, returns the original bag unchanged.
func EncryptClientParameters(params databag.DataBag, encryptor *security.Encryptor) (databag.DataBag, error) {
	return transformClientParameters(params, encryptor, encryptor.Encrypt, "encrypt")
}

// DecryptClientParameters reverses EncryptClientParameters.
func DecryptClientParameters(params databag.DataBag, encryptor *security.Encryptor) (databag.DataBag, error) {
	return transformClientParameters(params, encryptor, encryptor.Decrypt, "decrypt")
}

func transformClientParameters(params databag.DataBag, encryptor *security.Encryptor, fn func(string) (string, error), op string) (databag.DataBag, error) {
	if encryptor == nil || !encryptor.IsEnabled() {
		return params, nil
	}

	result := params
	for _, key := range SensitiveClientParameters {
		value := params.GetString(key)
		if value == "" {
			continue
		}
		transformed, err := fn(value)
		if err != nil {
			return databag.DataBag{}, fmt.Errorf("failed to %s client parameter %s: %w", op, key, err)
		}
		result = result.With(key, transformed)
	}
	return result, nil
}
