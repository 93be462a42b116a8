package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth2-engine/storage"
)

// GenerateAuthorizationRequestID returns a random UUID v4 flow identifier
func (s *Store) GenerateAuthorizationRequestID() string {
	return uuid.NewString()
}

// SetAuthorizationRequest stores a serialized flow until expiresAt.
// The payload is sealed when an encryptor is configured since it may
// carry the authenticated user and requested scopes.
func (s *Store) SetAuthorizationRequest(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if err := validateID("authorization request", id); err != nil {
		return err
	}
	if len(data) > MaxFlowDataSize {
		return fmt.Errorf("authorization request: %w", errInputTooLarge)
	}

	ttl := calculateTTL(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization request already expired")
	}

	sealed, err := s.getEncryptor().Seal(data)
	if err != nil {
		return fmt.Errorf("failed to seal authorization request: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.flowKey(id)).Value(string(sealed)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization request: %w", err)
	}
	return nil
}

// GetAuthorizationRequest returns the stored flow or storage.ErrAuthorizationRequestNotFound
func (s *Store) GetAuthorizationRequest(ctx context.Context, id string) ([]byte, error) {
	sealed, err := s.client.Do(ctx, s.client.B().Get().Key(s.flowKey(id)).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationRequestNotFound
		}
		return nil, fmt.Errorf("failed to get authorization request: %w", err)
	}

	data, err := s.getEncryptor().Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open authorization request: %w", err)
	}
	return data, nil
}

// HasAuthorizationRequest reports whether a flow is stored under id
func (s *Store) HasAuthorizationRequest(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Exists().Key(s.flowKey(id)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check authorization request: %w", err)
	}
	return n > 0, nil
}

// RemoveAuthorizationRequest discards a flow
func (s *Store) RemoveAuthorizationRequest(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.flowKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to remove authorization request: %w", err)
	}
	return nil
}
