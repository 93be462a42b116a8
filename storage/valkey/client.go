package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/storage"
)

// SaveClient saves a registered client. Soft deletion is a flag on the record;
// clients are never removed.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateID("client", client.ID); err != nil {
		return err
	}

	params, err := storage.EncryptClientParameters(client.Parameters, s.getEncryptor())
	if err != nil {
		return err
	}

	stored := *client
	stored.Parameters = params
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()

	if err := s.setJSON(ctx, s.clientKey(client.ID), toClientJSON(&stored), time.Time{}); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ID, "deleted", client.Deleted)
	return nil
}

// FindClient retrieves a client by ID, including soft-deleted clients
func (s *Store) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	j, err := getAndUnmarshal[clientJSON](ctx, s, s.clientKey(clientID), storage.ErrClientNotFound)
	if err != nil {
		return nil, err
	}

	client := fromClientJSON(j)
	params, err := storage.DecryptClientParameters(client.Parameters, s.getEncryptor())
	if err != nil {
		return nil, err
	}
	client.Parameters = params
	return client, nil
}
