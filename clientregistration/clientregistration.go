// Package clientregistration registers, updates and soft-deletes OAuth
// clients (RFC 7591, RFC 7592). Client metadata is validated by a rule chain
// before it is stored.
package clientregistration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/rulechain"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ErrClientOwnership is returned when a caller manages a client it does not own
var ErrClientOwnership = errors.New("client belongs to another owner")

// Config configures the registration service
type Config struct {
	Clients storage.ClientRepository
	Rules   *rulechain.Manager

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Now             func() time.Time
}

// Service manages client registrations
type Service struct {
	clients         storage.ClientRepository
	rules           *rulechain.Manager
	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	now             func() time.Time
}

// Registration is the outcome of Register and Update. ClientSecret holds the
// clear secret when one was issued; it is never stored in clear unless the
// authentication method needs it.
type Registration struct {
	Client       *storage.Client
	ClientSecret string
}

// New creates the service
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		clients:         cfg.Clients,
		rules:           cfg.Rules,
		logger:          cfg.Logger,
		auditor:         cfg.Auditor,
		instrumentation: cfg.Instrumentation,
		now:             cfg.Now,
	}
}

// Register validates command and stores a new client owned by ownerID
func (s *Service) Register(ctx context.Context, command databag.DataBag, ownerID string) (*Registration, error) {
	validated, err := s.rules.Handle(ctx, command, databag.DataBag{}, ownerID)
	if err != nil {
		s.reject(ctx, "", ownerID, err)
		return nil, err
	}

	now := s.now()
	client := &storage.Client{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	secret, err := s.applyParameters(client, validated)
	if err != nil {
		return nil, err
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	method := client.TokenEndpointAuthMethod()
	s.auditor.LogClientRegistered(ctx, client.ID, method, ownerID)
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordClientRegistration(ctx, method)
	}
	s.logger.InfoContext(ctx, "Registered new OAuth client",
		"client_id", client.ID,
		"client_name", client.Parameters.GetString(storage.ParamClientName),
		"token_endpoint_auth_method", method)

	return &Registration{Client: client, ClientSecret: secret}, nil
}

// Update replaces the metadata of clientID. The current secret is kept when
// the command carries none and the authentication method is unchanged.
func (s *Service) Update(ctx context.Context, clientID string, command databag.DataBag, ownerID string) (*Registration, error) {
	client, err := s.Get(ctx, clientID, ownerID)
	if err != nil {
		return nil, err
	}

	var injected, keepHash string
	sameMethod := methodOf(command) == client.TokenEndpointAuthMethod()
	if sameMethod && !command.Has(storage.ParamClientSecret) {
		if clear := client.Parameters.GetString(storage.ParamClientSecret); clear != "" {
			injected = clear
			command = command.With(storage.ParamClientSecret, clear)
		} else {
			keepHash = client.Parameters.GetString(storage.ParamClientSecretHash)
		}
		if expiresAt, ok := client.Parameters.GetInt64(storage.ParamClientSecretExpiresAt); ok && !command.Has(storage.ParamClientSecretExpiresAt) {
			command = command.With(storage.ParamClientSecretExpiresAt, expiresAt)
		}
	}

	validated, err := s.rules.Handle(ctx, command, databag.DataBag{}, ownerID)
	if err != nil {
		s.reject(ctx, clientID, ownerID, err)
		return nil, err
	}

	updated := *client
	updated.UpdatedAt = s.now()
	var secret string
	if keepHash != "" {
		updated.Parameters = validated.Without(storage.ParamClientSecret).With(storage.ParamClientSecretHash, keepHash)
	} else {
		if secret, err = s.applyParameters(&updated, validated); err != nil {
			return nil, err
		}
		if injected != "" && secret == injected {
			secret = ""
		}
	}

	if err := s.clients.SaveClient(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	s.auditor.LogEvent(ctx, security.Event{
		Type:     security.EventClientUpdated,
		ClientID: clientID,
		Details:  map[string]any{"owner_id": ownerID},
	})
	s.logger.InfoContext(ctx, "Updated OAuth client", "client_id", clientID)
	return &Registration{Client: &updated, ClientSecret: secret}, nil
}

// Delete soft-deletes clientID. The record is kept so that its identifier
// can never be reused and every later authentication fails.
func (s *Service) Delete(ctx context.Context, clientID, ownerID string) error {
	client, err := s.Get(ctx, clientID, ownerID)
	if err != nil {
		return err
	}
	client.Deleted = true
	client.UpdatedAt = s.now()
	if err := s.clients.SaveClient(ctx, client); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.auditor.LogEvent(ctx, security.Event{
		Type:     security.EventClientDeleted,
		ClientID: clientID,
		Details:  map[string]any{"owner_id": ownerID},
	})
	s.logger.InfoContext(ctx, "Deleted OAuth client", "client_id", clientID)
	return nil
}

// Get returns clientID if it exists, is not deleted and belongs to ownerID.
// An empty ownerID skips the ownership check.
func (s *Service) Get(ctx context.Context, clientID, ownerID string) (*storage.Client, error) {
	client, err := s.clients.FindClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, oautherr.InvalidClient("The client does not exist.")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client.IsDeleted() {
		return nil, oautherr.InvalidClient("The client does not exist.")
	}
	if ownerID != "" && client.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrClientOwnership, clientID)
	}
	return client, nil
}

// applyParameters stores validated on client and hashes the secret unless
// the method verifies HMAC signatures with it. It returns the clear secret.
func (s *Service) applyParameters(client *storage.Client, validated databag.DataBag) (string, error) {
	secret := validated.GetString(storage.ParamClientSecret)
	if secret == "" || validated.GetString(storage.ParamTokenEndpointAuthMethod) == authmethod.MethodClientSecretJWT {
		client.Parameters = validated
		return secret, nil
	}

	hash, err := authmethod.HashSecret(secret)
	if err != nil {
		return "", err
	}
	client.Parameters = validated.
		Without(storage.ParamClientSecret).
		With(storage.ParamClientSecretHash, hash)
	return secret, nil
}

func (s *Service) reject(ctx context.Context, clientID, ownerID string, err error) {
	oe := oautherr.From(err)
	s.auditor.LogEvent(ctx, security.Event{
		Type:     security.EventClientRegistrationRejected,
		ClientID: clientID,
		Details: map[string]any{
			"owner_id": ownerID,
			"error":    oe.Code,
			"reason":   oe.Description,
		},
	})
	s.logger.WarnContext(ctx, "Client registration rejected",
		"client_id", clientID,
		"error", oe.Code,
		"description", oe.Description)
}

func methodOf(command databag.DataBag) string {
	if m := command.GetString(storage.ParamTokenEndpointAuthMethod); m != "" {
		return m
	}
	return storage.DefaultTokenEndpointAuthMethod
}
