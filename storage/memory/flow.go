package memory

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// GenerateAuthorizationRequestID returns a random UUID v4 flow identifier
func (s *Store) GenerateAuthorizationRequestID() string {
	return uuid.NewString()
}

// SetAuthorizationRequest stores a serialized flow until expiresAt
func (s *Store) SetAuthorizationRequest(ctx context.Context, id string, data []byte, expiresAt time.Time) (err error) {
	ctx, span := s.startStorageSpan(ctx, "set_authorization_request")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "set_authorization_request", err, startTime) }()

	if id == "" {
		return fmt.Errorf("authorization request ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[id] = flowEntry{data: bytes.Clone(data), expiresAt: expiresAt}
	return nil
}

// GetAuthorizationRequest returns a stored flow. Expired flows are reported as not found.
func (s *Store) GetAuthorizationRequest(ctx context.Context, id string) (data []byte, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_authorization_request")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_authorization_request", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[id]
	if !ok || security.IsExpiredWithGracePeriod(flow.expiresAt, s.now(), 0) {
		return nil, storage.ErrAuthorizationRequestNotFound
	}
	return bytes.Clone(flow.data), nil
}

// HasAuthorizationRequest reports whether an unexpired flow is stored under id
func (s *Store) HasAuthorizationRequest(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[id]
	return ok && !security.IsExpiredWithGracePeriod(flow.expiresAt, s.now(), 0), nil
}

// RemoveAuthorizationRequest discards a flow. Removing an unknown flow is not an error.
func (s *Store) RemoveAuthorizationRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}
