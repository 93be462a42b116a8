package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/storage"
)

// SaveClient creates or replaces a client. Sensitive parameters are
// encrypted at rest when an encryptor is configured.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := storage.EncryptClientParameters(client.Parameters, s.encryptor)
	if err != nil {
		return err
	}

	stored := *client
	stored.Parameters = params
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = s.now()
	s.clients[client.ID] = &stored

	s.logger.Debug("Saved client", "client_id", client.ID, "deleted", client.Deleted)
	return nil
}

// FindClient retrieves a client by ID, including soft-deleted clients
func (s *Store) FindClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	params, err := storage.DecryptClientParameters(stored.Parameters, s.encryptor)
	if err != nil {
		return nil, err
	}
	out := *stored
	out.Parameters = params
	return &out, nil
}

// ListClients returns all stored clients, including soft-deleted ones
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.FindClient(ctx, id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}
