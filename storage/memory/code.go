package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/storage"
)

// CreateAuthorizationCode assigns an identifier and issue time to template.
func (s *Store) CreateAuthorizationCode(ctx context.Context, template storage.AuthorizationCode) (*storage.AuthorizationCode, error) {
	id, err := storage.GenerateTokenID()
	if err != nil {
		return nil, err
	}
	code := cloneCode(&template)
	code.ID = id
	if code.IssuedAt.IsZero() {
		code.IssuedAt = s.clock()
	}
	return code, nil
}

// SaveAuthorizationCode persists an authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if code == nil || code.ID == "" {
		return fmt.Errorf("authorization code ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.ID] = cloneCode(code)
	return nil
}

// FindAuthorizationCode retrieves an authorization code by ID
func (s *Store) FindAuthorizationCode(ctx context.Context, codeID string) (code *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_authorization_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.codes[codeID]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return cloneCode(stored), nil
}

// AtomicCheckAndMarkAuthorizationCodeUsed atomically checks if a code is unused and marks it as used.
//
// The code is only returned alongside an error on reuse (ErrAuthorizationCodeUsed)
// so the caller can revoke the tokens issued from it. Not found and expired
// codes return nil to prevent information leakage.
func (s *Store) AtomicCheckAndMarkAuthorizationCodeUsed(ctx context.Context, codeID string) (code *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "atomic_mark_code_used")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "atomic_mark_code_used", err, startTime) }()

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	stored, ok := s.codes[codeID]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if stored.HasExpired(s.now()) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	if stored.Used {
		return cloneCode(stored), storage.ErrAuthorizationCodeUsed
	}

	stored.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(codeID, tokenIDLogLength))
	return cloneCode(stored), nil
}

func cloneCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	out.QueryParameters = maps.Clone(c.QueryParameters)
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}
