package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ============================================================
// AccessTokenRepository Implementation
// ============================================================

// CreateAccessToken assigns an identifier and issue time to template.
// The token is persisted by SaveAccessToken.
func (s *Store) CreateAccessToken(ctx context.Context, template storage.AccessToken) (*storage.AccessToken, error) {
	id, err := storage.GenerateTokenID()
	if err != nil {
		return nil, err
	}
	token := cloneAccessToken(&template)
	token.ID = id
	if token.IssuedAt.IsZero() {
		token.IssuedAt = s.clock()
	}
	return token, nil
}

// SaveAccessToken persists an access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_access_token", err, startTime) }()

	if token == nil || token.ID == "" {
		return fmt.Errorf("access token ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token.ID] = cloneAccessToken(token)
	return nil
}

// FindAccessToken retrieves an access token by ID, including revoked and
// expired tokens. Callers decide how to treat them.
func (s *Store) FindAccessToken(ctx context.Context, tokenID string) (token *storage.AccessToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_access_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.accessTokens[tokenID]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneAccessToken(stored), nil
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
	token := cloneRefreshToken(&template)
	token.ID = id
	if token.IssuedAt.IsZero() {
		token.IssuedAt = s.clock()
	}
	return token, nil
}

// SaveRefreshToken persists a refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime) }()

	if token == nil || token.ID == "" {
		return fmt.Errorf("refresh token ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.ID] = cloneRefreshToken(token)
	return nil
}

// FindRefreshToken retrieves a refresh token by ID
func (s *Store) FindRefreshToken(ctx context.Context, tokenID string) (token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_refresh_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.refreshTokens[tokenID]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneRefreshToken(stored), nil
}

// AtomicRevokeRefreshToken checks that a refresh token is active and revokes it
// under the write lock, so two concurrent refresh requests cannot both succeed.
func (s *Store) AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "atomic_revoke_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "atomic_revoke_refresh_token", err, startTime) }()

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	stored, ok := s.refreshTokens[tokenID]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if stored.HasExpired(s.now()) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}
	if stored.Revoked {
		// SECURITY: returned so the caller can react to reuse
		return cloneRefreshToken(stored), storage.ErrTokenRevoked
	}

	stored.Revoked = true
	s.logger.Debug("Revoked refresh token",
		"token_prefix", util.SafeTruncate(tokenID, tokenIDLogLength))
	return cloneRefreshToken(stored), nil
}

// ============================================================
// TokenRevocationStore Implementation
// ============================================================

// RevokeTokensByAuthorizationCode revokes every access and refresh token
// issued from codeID. Used when authorization code reuse is detected.
func (s *Store) RevokeTokensByAuthorizationCode(ctx context.Context, codeID string) (revoked int, err error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_tokens_by_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "revoke_tokens_by_code", err, startTime) }()

	if codeID == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range s.accessTokens {
		if token.AuthorizationCodeID == codeID && !token.Revoked {
			token.Revoked = true
			revoked++
		}
	}
	for _, token := range s.refreshTokens {
		if token.AuthorizationCodeID == codeID && !token.Revoked {
			token.Revoked = true
			revoked++
		}
	}

	s.logger.Info("Revoked tokens issued from authorization code",
		"code_prefix", util.SafeTruncate(codeID, tokenIDLogLength),
		"revoked", revoked)
	return revoked, nil
}

// ============================================================
// JTIStore Implementation
// ============================================================

// MarkJTIUsed records an assertion identifier until expiresAt
func (s *Store) MarkJTIUsed(ctx context.Context, issuer, jti string, expiresAt time.Time) error {
	key := issuer + "\x00" + jti

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jtis[key]; ok && !security.IsExpiredWithGracePeriod(prev, s.now(), 0) {
		return storage.ErrJTIReplayed
	}
	s.jtis[key] = expiresAt
	return nil
}

func (s *Store) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func cloneAccessToken(t *storage.AccessToken) *storage.AccessToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	out.Metadata = maps.Clone(t.Metadata)
	out.Parameters = maps.Clone(t.Parameters)
	return &out
}

func cloneRefreshToken(t *storage.RefreshToken) *storage.RefreshToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	out.Metadata = maps.Clone(t.Metadata)
	out.Parameters = maps.Clone(t.Parameters)
	return &out
}
