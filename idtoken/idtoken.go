// Package idtoken issues signed OpenID Connect ID tokens.
package idtoken

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"maps"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// DefaultLifetime is the validity of an ID token
const DefaultLifetime = time.Hour

// Signer signs JWTs with one private key.
type Signer struct {
	alg    jose.SignatureAlgorithm
	kid    string
	public jose.JSONWebKey
	signer jose.Signer
}

// NewSigner creates a signer. The key ID is the RFC 7638 thumbprint of the public key.
func NewSigner(key crypto.Signer, alg jose.SignatureAlgorithm) (*Signer, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	public := jose.JSONWebKey{Key: key.Public(), Algorithm: string(alg), Use: "sig"}
	thumbprint, err := public.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	public.KeyID = base64.RawURLEncoding.EncodeToString(thumbprint)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader(jose.HeaderKey("kid"), public.KeyID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &Signer{alg: alg, kid: public.KeyID, public: public, signer: signer}, nil
}

// KeyID returns the kid header placed on signed tokens
func (s *Signer) KeyID() string {
	return s.kid
}

// Algorithm returns the signature algorithm
func (s *Signer) Algorithm() jose.SignatureAlgorithm {
	return s.alg
}

// PublicJWKS returns the key set clients use to verify issued tokens
func (s *Signer) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{s.public}}
}

// Sign serializes claims as a compact JWS
func (s *Signer) Sign(claims map[string]any) (string, error) {
	token, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Params describes one ID token.
type Params struct {
	ClientID string
	Subject  string
	Nonce    string
	AuthTime time.Time
	// AccessToken and Code, when set, are bound through at_hash and c_hash.
	AccessToken string
	Code        string
	Claims      map[string]any
	Lifetime    time.Duration
}

// Builder assembles and signs ID tokens for one issuer.
type Builder struct {
	issuer   string
	signer   *Signer
	lifetime time.Duration
	now      func() time.Time
}

// NewBuilder creates a builder. lifetime <= 0 selects DefaultLifetime.
func NewBuilder(issuer string, signer *Signer, lifetime time.Duration) *Builder {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Builder{issuer: issuer, signer: signer, lifetime: lifetime, now: time.Now}
}

// SetClock overrides the time source (for testing)
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Signer returns the underlying signer
func (b *Builder) Signer() *Signer {
	return b.signer
}

// Build returns a signed ID token. Registered claims always win over
// p.Claims.
func (b *Builder) Build(p Params) (string, error) {
	if p.Subject == "" || p.ClientID == "" {
		return "", errors.New("subject and client are required")
	}
	lifetime := p.Lifetime
	if lifetime <= 0 {
		lifetime = b.lifetime
	}
	now := b.now()

	claims := make(map[string]any, len(p.Claims)+8)
	maps.Copy(claims, p.Claims)
	claims["iss"] = b.issuer
	claims["sub"] = p.Subject
	claims["aud"] = p.ClientID
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(lifetime).Unix()
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}
	if !p.AuthTime.IsZero() {
		claims["auth_time"] = p.AuthTime.Unix()
	}
	if p.AccessToken != "" {
		h, err := HalfHash(b.signer.alg, p.AccessToken)
		if err != nil {
			return "", err
		}
		claims["at_hash"] = h
	}
	if p.Code != "" {
		h, err := HalfHash(b.signer.alg, p.Code)
		if err != nil {
			return "", err
		}
		claims["c_hash"] = h
	}
	return b.signer.Sign(claims)
}

// HalfHash computes the at_hash / c_hash value of value for alg: the
// base64url encoding of the left half of the digest (OIDC Core 3.1.3.6).
func HalfHash(alg jose.SignatureAlgorithm, value string) (string, error) {
	var h hash.Hash
	switch alg {
	case jose.RS256, jose.PS256, jose.ES256, jose.HS256, jose.EdDSA:
		h = sha256.New()
	case jose.RS384, jose.PS384, jose.ES384, jose.HS384:
		h = sha512.New384()
	case jose.RS512, jose.PS512, jose.ES512, jose.HS512:
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported algorithm %q", alg)
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
