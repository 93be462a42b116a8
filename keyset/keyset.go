package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// KeySet verifies the signature of a compact JWS and returns its payload.
type KeySet interface {
	VerifySignature(ctx context.Context, token string) ([]byte, error)
}

// ErrNoMatchingKey is returned when no key in the set validates a signature
var ErrNoMatchingKey = errors.New("no key in the key set validated the signature")

// Asymmetric signature algorithms accepted for private_key_jwt and trusted issuers
var AsymmetricAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// HMACAlgorithms are the algorithms accepted for client_secret_jwt
var HMACAlgorithms = []jose.SignatureAlgorithm{jose.HS256, jose.HS384, jose.HS512}

// SignatureAlgorithm returns the alg header of a compact JWS without verifying it.
func SignatureAlgorithm(token string) (jose.SignatureAlgorithm, error) {
	jws, err := jose.ParseSigned(token, append(append([]jose.SignatureAlgorithm{}, AsymmetricAlgorithms...), HMACAlgorithms...))
	if err != nil {
		return "", fmt.Errorf("failed to parse JWS: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return "", errors.New("JWS must carry exactly one signature")
	}
	return jose.SignatureAlgorithm(jws.Signatures[0].Header.Algorithm), nil
}

// IsEncrypted reports whether token looks like a compact JWE (five segments).
func IsEncrypted(token string) bool {
	return strings.Count(token, ".") == 4
}

// StaticKeySet verifies signatures against a fixed JWK set.
type StaticKeySet struct {
	keys       jose.JSONWebKeySet
	algorithms []jose.SignatureAlgorithm
}

// NewStaticKeySet returns a key set over keys restricted to algorithms.
// Private keys are reduced to their public half.
func NewStaticKeySet(keys jose.JSONWebKeySet, algorithms []jose.SignatureAlgorithm) *StaticKeySet {
	public := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys.Keys))}
	for _, k := range keys.Keys {
		if !k.IsPublic() {
			k = k.Public()
		}
		public.Keys = append(public.Keys, k)
	}
	if len(algorithms) == 0 {
		algorithms = AsymmetricAlgorithms
	}
	return &StaticKeySet{keys: public, algorithms: algorithms}
}

// ParseJWKS decodes a JWK set from its JSON form (a string, raw JSON, or a
// decoded map as found in client metadata).
func ParseJWKS(value any) (jose.JSONWebKeySet, error) {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("failed to encode jwks: %w", err)
		}
		raw = b
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("invalid jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return jose.JSONWebKeySet{}, errors.New("jwks contains no keys")
	}
	return set, nil
}

// VerifySignature checks token against the key named by its kid header, or
// every key when kid is absent.
func (s *StaticKeySet) VerifySignature(_ context.Context, token string) ([]byte, error) {
	jws, err := jose.ParseSigned(token, s.algorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWS: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, errors.New("JWS must carry exactly one signature")
	}

	candidates := s.keys.Keys
	if kid := jws.Signatures[0].Header.KeyID; kid != "" {
		candidates = s.keys.Key(kid)
	}
	for _, key := range candidates {
		if payload, err := jws.Verify(key); err == nil {
			return payload, nil
		}
	}
	return nil, ErrNoMatchingKey
}

// SecretKeySet verifies HMAC signatures with a shared secret.
type SecretKeySet struct {
	secret []byte
}

// NewSecretKeySet returns a key set over secret
func NewSecretKeySet(secret []byte) *SecretKeySet {
	return &SecretKeySet{secret: secret}
}

// VerifySignature verifies an HS256/384/512 signature
func (s *SecretKeySet) VerifySignature(_ context.Context, token string) ([]byte, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("no secret available")
	}
	jws, err := jose.ParseSigned(token, HMACAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWS: %w", err)
	}
	payload, err := jws.Verify(s.secret)
	if err != nil {
		return nil, ErrNoMatchingKey
	}
	return payload, nil
}

// RestrictAlgorithms wraps ks so that tokens signed with any algorithm outside
// algorithms are rejected before verification.
func RestrictAlgorithms(ks KeySet, algorithms []jose.SignatureAlgorithm) KeySet {
	if len(algorithms) == 0 {
		return ks
	}
	return restricted{next: ks, algorithms: algorithms}
}

type restricted struct {
	next       KeySet
	algorithms []jose.SignatureAlgorithm
}

func (r restricted) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	if _, err := jose.ParseSigned(token, r.algorithms); err != nil {
		return nil, fmt.Errorf("signature algorithm not allowed: %w", err)
	}
	return r.next.VerifySignature(ctx, token)
}
