package authorizationendpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// AuthorizationRequestLoader turns a new authorization request into an
// Authorization: it collects the parameters and loads the client.
type AuthorizationRequestLoader struct {
	Clients storage.ClientRepository
}

// Load parses r and resolves its client_id. Failures are direct errors: the
// redirect URI cannot be trusted before the client is known.
func (l AuthorizationRequestLoader) Load(ctx context.Context, r *http.Request) (*authorization.Authorization, error) {
	if err := r.ParseForm(); err != nil {
		return nil, oautherr.InvalidRequest("The request parameters could not be parsed.")
	}

	values := make(map[string]any, len(r.Form))
	for key, v := range r.Form {
		if key == ParamAuthorizationID {
			continue
		}
		// RFC 6749 section 3.1
		if len(v) > 1 {
			return nil, oautherr.InvalidRequest(fmt.Sprintf("The parameter %q must not be included more than once.", key))
		}
		values[key] = v[0]
	}
	query := databag.New(values)

	client, err := l.client(ctx, query.GetString(authorization.ParamClientID))
	if err != nil {
		return nil, err
	}
	return authorization.New(client, query), nil
}

func (l AuthorizationRequestLoader) client(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, oautherr.InvalidRequest("The parameter \"client_id\" is mandatory.")
	}
	client, err := l.Clients.FindClient(ctx, clientID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, oautherr.InvalidRequest("The client does not exist.")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client.IsDeleted() {
		return nil, oautherr.InvalidRequest("The client does not exist.")
	}
	return client, nil
}

// flowStore keeps Authorizations between the redirects of a flow as JSON
// snapshots in AuthorizationRequestStorage.
type flowStore struct {
	requests storage.AuthorizationRequestStorage
	loader   AuthorizationRequestLoader
	users    storage.UserAccountRepository
	lifetime time.Duration
}

func (s *flowStore) generateID() string {
	return s.requests.GenerateAuthorizationRequestID()
}

func (s *flowStore) save(ctx context.Context, flowID string, auth *authorization.Authorization) error {
	data, err := json.Marshal(auth.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to serialize authorization: %w", err)
	}
	if err := s.requests.SetAuthorizationRequest(ctx, flowID, data, auth.CreatedAt().Add(s.lifetime)); err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	return nil
}

func (s *flowStore) load(ctx context.Context, flowID string) (*authorization.Authorization, error) {
	data, err := s.requests.GetAuthorizationRequest(ctx, flowID)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationRequestNotFound) {
			return nil, oautherr.InvalidRequest("The authorization request does not exist or has expired.")
		}
		return nil, fmt.Errorf("failed to load authorization: %w", err)
	}

	var snapshot authorization.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode authorization: %w", err)
	}

	client, err := s.loader.client(ctx, snapshot.ClientID)
	if err != nil {
		return nil, err
	}

	var user *storage.UserAccount
	if snapshot.UserID != "" && s.users != nil {
		user, err = s.users.FindUserAccount(ctx, snapshot.UserID)
		if err != nil && !errors.Is(err, storage.ErrUserAccountNotFound) {
			return nil, fmt.Errorf("failed to load user account: %w", err)
		}
	}
	return authorization.Restore(snapshot, client, user), nil
}

func (s *flowStore) remove(ctx context.Context, flowID string) error {
	return s.requests.RemoveAuthorizationRequest(ctx, flowID)
}
