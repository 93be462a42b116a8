package granttype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ClientCredentials issues tokens to confidential clients acting on their
// own behalf (RFC 6749 section 4.4).
type ClientCredentials struct{}

// Name implements GrantType
func (ClientCredentials) Name() string { return NameClientCredentials }

// AssociatedResponseTypes implements GrantType
func (ClientCredentials) AssociatedResponseTypes() []string { return nil }

// CheckRequest implements GrantType
func (ClientCredentials) CheckRequest(*http.Request) error { return nil }

// PrepareResponse makes the client its own resource owner
func (ClientCredentials) PrepareResponse(_ context.Context, _ *http.Request, data *Data) error {
	if data.Client.IsPublic() {
		return oautherr.InvalidClient("The client is not a confidential client.")
	}
	data.ResourceOwnerID = data.Client.ID
	data.IssueRefreshToken = false
	data.RefreshTokenDecided = true
	return nil
}

// Grant implements GrantType
func (ClientCredentials) Grant(context.Context, *http.Request, *Data) error { return nil }

// Password authenticates the resource owner with username and password
// (RFC 6749 section 4.3).
type Password struct {
	users   storage.UserAccountRepository
	auditor *security.Auditor
	logger  *slog.Logger
}

// NewPassword creates the grant type
func NewPassword(users storage.UserAccountRepository, auditor *security.Auditor, logger *slog.Logger) *Password {
	if logger == nil {
		logger = slog.Default()
	}
	return &Password{users: users, auditor: auditor, logger: logger}
}

// Name implements GrantType
func (*Password) Name() string { return NamePassword }

// AssociatedResponseTypes implements GrantType
func (*Password) AssociatedResponseTypes() []string { return nil }

// CheckRequest requires username and password
func (*Password) CheckRequest(r *http.Request) error {
	return requireParameters(r, ParamUsername, ParamPassword)
}

// PrepareResponse authenticates the resource owner
func (p *Password) PrepareResponse(ctx context.Context, r *http.Request, data *Data) error {
	user, err := p.users.FindUserAccountByUsernameAndPassword(ctx, r.PostFormValue(ParamUsername), r.PostFormValue(ParamPassword))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidUserCredentials) || errors.Is(err, storage.ErrUserAccountNotFound) {
			p.auditor.LogEvent(ctx, security.Event{
				Type:     security.EventResourceOwnerAuthFailure,
				ClientID: data.Client.ID,
				Details:  map[string]any{"grant_type": NamePassword},
			})
			return oautherr.InvalidGrant("Invalid username and password combination.")
		}
		return fmt.Errorf("failed to authenticate resource owner: %w", err)
	}
	data.ResourceOwnerID = user.ID
	return nil
}

// Grant implements GrantType
func (*Password) Grant(context.Context, *http.Request, *Data) error { return nil }

// Implicit is registered so that the token and id_token response types have
// a grant type to associate with. It cannot be used at the token endpoint.
type Implicit struct{}

// Name implements GrantType
func (Implicit) Name() string { return NameImplicit }

// AssociatedResponseTypes implements GrantType
func (Implicit) AssociatedResponseTypes() []string { return []string{"token", "id_token"} }

// CheckRequest always fails
func (Implicit) CheckRequest(*http.Request) error {
	return oautherr.InvalidGrant("The implicit grant type cannot be used at the token endpoint.")
}

// PrepareResponse implements GrantType
func (Implicit) PrepareResponse(context.Context, *http.Request, *Data) error {
	return oautherr.InvalidGrant("The implicit grant type cannot be used at the token endpoint.")
}

// Grant implements GrantType
func (Implicit) Grant(context.Context, *http.Request, *Data) error {
	return oautherr.InvalidGrant("The implicit grant type cannot be used at the token endpoint.")
}

func requireParameters(r *http.Request, names ...string) error {
	for _, name := range names {
		if r.PostFormValue(name) == "" {
			return oautherr.InvalidRequest(fmt.Sprintf("The parameter %q is missing.", name))
		}
	}
	return nil
}
