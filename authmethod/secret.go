package authmethod

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// secretBytes is the entropy of generated client secrets
const secretBytes = 32

// GenerateSecret returns a new random client secret
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns the bcrypt hash stored in client_secret_hash
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares secret with the client's stored secret: the bcrypt
// hash when present, the clear value otherwise (client_secret_jwt clients).
func VerifySecret(client *storage.Client, secret string) bool {
	if secret == "" {
		return false
	}
	if hash := client.Parameters.GetString(storage.ParamClientSecretHash); hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
	}
	stored := client.Parameters.GetString(storage.ParamClientSecret)
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}

// secretConfiguration gives the client a secret unless it already has one.
func secretConfiguration(command, validated databag.DataBag, lifetime time.Duration, now func() time.Time) (databag.DataBag, error) {
	secret := command.GetString(storage.ParamClientSecret)
	if secret == "" {
		generated, err := GenerateSecret()
		if err != nil {
			return databag.DataBag{}, err
		}
		secret = generated
	}
	validated = validated.With(storage.ParamClientSecret, secret)

	if expiresAt, ok := command.GetInt64(storage.ParamClientSecretExpiresAt); ok {
		return validated.With(storage.ParamClientSecretExpiresAt, expiresAt), nil
	}
	var expiresAt int64
	if lifetime > 0 {
		expiresAt = now().Add(lifetime).Unix()
	}
	return validated.With(storage.ParamClientSecretExpiresAt, expiresAt), nil
}

// None identifies public clients by client_id without credentials
type None struct{}

// SupportedMethods implements Method
func (None) SupportedMethods() []string { return []string{MethodNone} }

// SchemesParameters implements Method
func (None) SchemesParameters() []string { return nil }

// FindClientIDAndCredentials reads client_id from the form body
func (None) FindClientIDAndCredentials(r *http.Request) (string, any, bool, error) {
	clientID := r.PostFormValue(ParamClientID)
	return clientID, nil, clientID != "", nil
}

// IsClientAuthenticated always succeeds; the manager's post-checks
// guarantee the client is registered as public.
func (None) IsClientAuthenticated(context.Context, *http.Request, *storage.Client, any) bool {
	return true
}

// CheckClientConfiguration removes secret material
func (None) CheckClientConfiguration(_, validated databag.DataBag) (databag.DataBag, error) {
	return validated.Without(storage.ParamClientSecret).Without(storage.ParamClientSecretExpiresAt), nil
}

// ClientSecretBasic reads credentials from the HTTP Basic Authorization header
type ClientSecretBasic struct {
	realm          string
	secretLifetime time.Duration
	now            func() time.Time
}

// NewClientSecretBasic creates the method. secretLifetime 0 issues secrets
// that never expire.
func NewClientSecretBasic(realm string, secretLifetime time.Duration) *ClientSecretBasic {
	return &ClientSecretBasic{realm: realm, secretLifetime: secretLifetime, now: time.Now}
}

// SupportedMethods implements Method
func (*ClientSecretBasic) SupportedMethods() []string { return []string{MethodClientSecretBasic} }

// SchemesParameters returns the Basic challenge
func (b *ClientSecretBasic) SchemesParameters() []string {
	return []string{fmt.Sprintf(`Basic realm="%s",charset="UTF-8"`, b.realm)}
}

// FindClientIDAndCredentials decodes the Authorization header. Both parts
// are form-urlencoded (RFC 6749 section 2.3.1).
func (*ClientSecretBasic) FindClientIDAndCredentials(r *http.Request) (string, any, bool, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "basic ") {
		return "", nil, false, nil
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", nil, false, oautherr.InvalidRequest("Malformed Basic authorization header.")
	}
	clientID, err := url.QueryUnescape(username)
	if err != nil {
		return "", nil, false, oautherr.InvalidRequest("Malformed Basic authorization header.")
	}
	secret, err := url.QueryUnescape(password)
	if err != nil {
		return "", nil, false, oautherr.InvalidRequest("Malformed Basic authorization header.")
	}
	if clientID == "" {
		return "", nil, false, nil
	}
	return clientID, secret, true, nil
}

// IsClientAuthenticated verifies the secret
func (*ClientSecretBasic) IsClientAuthenticated(_ context.Context, _ *http.Request, client *storage.Client, credentials any) bool {
	secret, _ := credentials.(string)
	return VerifySecret(client, secret)
}

// CheckClientConfiguration issues a client secret
func (b *ClientSecretBasic) CheckClientConfiguration(command, validated databag.DataBag) (databag.DataBag, error) {
	return secretConfiguration(command, validated, b.secretLifetime, b.now)
}

// ClientSecretPost reads client_id and client_secret from the form body
type ClientSecretPost struct {
	secretLifetime time.Duration
	now            func() time.Time
}

// NewClientSecretPost creates the method
func NewClientSecretPost(secretLifetime time.Duration) *ClientSecretPost {
	return &ClientSecretPost{secretLifetime: secretLifetime, now: time.Now}
}

// SupportedMethods implements Method
func (*ClientSecretPost) SupportedMethods() []string { return []string{MethodClientSecretPost} }

// SchemesParameters implements Method
func (*ClientSecretPost) SchemesParameters() []string { return nil }

// FindClientIDAndCredentials implements Method
func (*ClientSecretPost) FindClientIDAndCredentials(r *http.Request) (string, any, bool, error) {
	clientID := r.PostFormValue(ParamClientID)
	secret := r.PostFormValue(ParamClientSecret)
	if clientID == "" || secret == "" {
		return "", nil, false, nil
	}
	return clientID, secret, true, nil
}

// IsClientAuthenticated verifies the secret
func (*ClientSecretPost) IsClientAuthenticated(_ context.Context, _ *http.Request, client *storage.Client, credentials any) bool {
	secret, _ := credentials.(string)
	return VerifySecret(client, secret)
}

// CheckClientConfiguration issues a client secret
func (p *ClientSecretPost) CheckClientConfiguration(command, validated databag.DataBag) (databag.DataBag, error) {
	return secretConfiguration(command, validated, p.secretLifetime, p.now)
}
