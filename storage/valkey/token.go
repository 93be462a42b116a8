package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ============================================================
// AccessTokenRepository Implementation
// ============================================================

// CreateAccessToken assigns an identifier and issue time to template.
func (s *Store) CreateAccessToken(ctx context.Context, template storage.AccessToken) (*storage.AccessToken, error) {
	id, err := storage.GenerateTokenID()
	if err != nil {
		return nil, err
	}
	token := template
	token.ID = id
	token.IssuedAt = issuedAtOrNow(token.IssuedAt)
	return &token, nil
}

// SaveAccessToken persists an access token until it expires
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil {
		return fmt.Errorf("invalid access token")
	}
	if err := validateID("access token", token.ID); err != nil {
		return err
	}

	key := s.accessTokenKey(token.ID)
	if err := s.setJSON(ctx, key, toAccessTokenJSON(token), token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	s.indexByCode(ctx, token.AuthorizationCodeID, key, token.ExpiresAt)
	return nil
}

// FindAccessToken retrieves an access token by ID
func (s *Store) FindAccessToken(ctx context.Context, tokenID string) (*storage.AccessToken, error) {
	j, err := getAndUnmarshal[tokenJSON](ctx, s, s.accessTokenKey(tokenID), storage.ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return fromAccessTokenJSON(j), nil
}

// ============================================================
// RefreshTokenRepository Implementation
// ============================================================

// CreateRefreshToken assigns an identifier and issue time to template.
func (s *Store) CreateRefreshToken(ctx context.Context, template storage.RefreshToken) (*storage.RefreshToken, error) {
	id, err := storage.GenerateTokenID()
	if err != nil {
		return nil, err
	}
	token := template
	token.ID = id
	token.IssuedAt = issuedAtOrNow(token.IssuedAt)
	return &token, nil
}

// SaveRefreshToken persists a refresh token until it expires
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil {
		return fmt.Errorf("invalid refresh token")
	}
	if err := validateID("refresh token", token.ID); err != nil {
		return err
	}

	key := s.refreshTokenKey(token.ID)
	if err := s.setJSON(ctx, key, toRefreshTokenJSON(token), token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	s.indexByCode(ctx, token.AuthorizationCodeID, key, token.ExpiresAt)
	return nil
}

// FindRefreshToken retrieves a refresh token by ID
func (s *Store) FindRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	j, err := getAndUnmarshal[tokenJSON](ctx, s, s.refreshTokenKey(tokenID), storage.ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return fromRefreshTokenJSON(j), nil
}

// AtomicRevokeRefreshToken checks that a refresh token is active and revokes it.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
func (s *Store) AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*storage.RefreshToken, error) {
	result, err := s.evalString(ctx, luaAtomicRevokeRefreshToken, s.refreshTokenKey(tokenID), nowArg())
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh token revocation: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	case strings.HasPrefix(result, "ALREADY_REVOKED:"):
		var j tokenJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_REVOKED:")), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse revoked token", storage.ErrTokenRevoked)
		}
		return fromRefreshTokenJSON(&j), storage.ErrTokenRevoked
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	s.logger.Debug("Revoked refresh token",
		"token_prefix", util.SafeTruncate(tokenID, tokenIDLogLength))
	return fromRefreshTokenJSON(&j), nil
}

// ============================================================
// TokenRevocationStore Implementation
// ============================================================

// indexByCode remembers which token keys were issued from an authorization code
func (s *Store) indexByCode(ctx context.Context, codeID, tokenKey string, expiresAt time.Time) {
	if codeID == "" {
		return
	}
	setKey := s.codeTokensKey(codeID)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(setKey).Member(tokenKey).Build()).Error(); err != nil {
		s.logger.Warn("Failed to index token by authorization code", "error", err)
		return
	}
	if ttl := calculateTTL(expiresAt); ttl > 0 {
		_ = s.client.Do(ctx, s.client.B().Expire().Key(setKey).Seconds(int64(ttl.Seconds())+1).Build()).Error()
	}
}

// RevokeTokensByAuthorizationCode revokes every token issued from codeID
func (s *Store) RevokeTokensByAuthorizationCode(ctx context.Context, codeID string) (int, error) {
	if codeID == "" {
		return 0, nil
	}

	keys, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.codeTokensKey(codeID)).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list tokens issued from code: %w", err)
	}

	revoked := 0
	for _, key := range keys {
		n, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaRevokeToken).Numkeys(1).Key(key).Build(),
		).AsInt64()
		if err != nil {
			return revoked, fmt.Errorf("failed to revoke token: %w", err)
		}
		revoked += int(n)
	}

	s.logger.Info("Revoked tokens issued from authorization code",
		"code_prefix", util.SafeTruncate(codeID, tokenIDLogLength),
		"revoked", revoked)
	return revoked, nil
}

// ============================================================
// JTIStore Implementation
// ============================================================

// MarkJTIUsed records an assertion identifier until expiresAt.
// Returns storage.ErrJTIReplayed if it was already recorded.
func (s *Store) MarkJTIUsed(ctx context.Context, issuer, jti string, expiresAt time.Time) error {
	if err := validateID("jti", jti); err != nil {
		return err
	}
	ttl := calculateTTL(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	stored, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkOnce).Numkeys(1).
			Key(s.jtiKey(issuer, jti)).
			Arg(strconv.FormatInt(ttl.Milliseconds(), 10)).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to record assertion identifier: %w", err)
	}
	if stored == 0 {
		return storage.ErrJTIReplayed
	}
	return nil
}
