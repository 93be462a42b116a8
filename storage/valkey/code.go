package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/storage"
)

// CreateAuthorizationCode assigns an identifier and issue time to template.
func (s *Store) CreateAuthorizationCode(ctx context.Context, template storage.AuthorizationCode) (*storage.AuthorizationCode, error) {
	id, err := storage.GenerateTokenID()
	if err != nil {
		return nil, err
	}
	code := template
	code.ID = id
	code.IssuedAt = issuedAtOrNow(code.IssuedAt)
	return &code, nil
}

// SaveAuthorizationCode persists an authorization code until it expires
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateID("authorization code", code.ID); err != nil {
		return err
	}
	if err := s.setJSON(ctx, s.codeKey(code.ID), toAuthorizationCodeJSON(code), code.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// FindAuthorizationCode retrieves an authorization code by ID
func (s *Store) FindAuthorizationCode(ctx context.Context, codeID string) (*storage.AuthorizationCode, error) {
	j, err := getAndUnmarshal[authorizationCodeJSON](ctx, s, s.codeKey(codeID), storage.ErrAuthorizationCodeNotFound)
	if err != nil {
		return nil, err
	}
	return fromAuthorizationCodeJSON(j), nil
}

// AtomicCheckAndMarkAuthorizationCodeUsed atomically checks if a code is unused and marks it as used.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
//
// The code is only returned alongside an error on reuse so the caller can
// revoke the tokens issued from it.
func (s *Store) AtomicCheckAndMarkAuthorizationCodeUsed(ctx context.Context, codeID string) (*storage.AuthorizationCode, error) {
	result, err := s.evalString(ctx, luaAtomicCheckAndMarkCodeUsed, s.codeKey(codeID), nowArg())
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	case strings.HasPrefix(result, "ALREADY_USED:"):
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_USED:")), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrAuthorizationCodeUsed)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrAuthorizationCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(codeID, tokenIDLogLength))
	return fromAuthorizationCodeJSON(&j), nil
}
