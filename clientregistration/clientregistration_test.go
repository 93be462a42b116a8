package clientregistration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/authmethod"
	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/rulechain"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/memory"
)

type grantTypes []string

func (g grantTypes) Has(name string) bool {
	for _, gt := range g {
		if gt == name {
			return true
		}
	}
	return false
}

type responseTypes map[string][]string

func (r responseTypes) AssociatedGrantTypes(name string) ([]string, bool) {
	gts, ok := r[name]
	return gts, ok
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	rules := rulechain.DefaultManager(rulechain.Config{
		GrantTypes:    grantTypes{"authorization_code", "refresh_token", "client_credentials"},
		ResponseTypes: responseTypes{"code": {"authorization_code"}},
		AuthMethods: authmethod.NewManager(
			authmethod.None{},
			authmethod.NewClientSecretBasic("test", 0),
			authmethod.NewClientSecretPost(0),
			authmethod.NewClientAssertionJWT(authmethod.NewAssertionVerifier(authmethod.AssertionVerifierConfig{}), 0),
		),
	})
	return New(Config{Clients: store, Rules: rules}), store
}

var webClient = map[string]any{
	storage.ParamRedirectURIs: []string{"https://client.example.com/cb"},
	storage.ParamClientName:   "Example",
}

func withParams(base map[string]any, extra map[string]any) databag.DataBag {
	return databag.New(base).Merge(databag.New(extra))
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		wantSecret  bool
		storedClear bool
	}{
		{name: "client_secret_basic", method: authmethod.MethodClientSecretBasic, wantSecret: true},
		{name: "client_secret_post", method: authmethod.MethodClientSecretPost, wantSecret: true},
		{name: "client_secret_jwt keeps the clear secret", method: authmethod.MethodClientSecretJWT, wantSecret: true, storedClear: true},
		{name: "none", method: authmethod.MethodNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			ctx := context.Background()

			reg, err := svc.Register(ctx, withParams(webClient, map[string]any{storage.ParamTokenEndpointAuthMethod: tt.method}), "owner-1")
			require.NoError(t, err)

			_, err = uuid.Parse(reg.Client.ID)
			assert.NoError(t, err, "client id is a uuid")
			assert.Equal(t, "owner-1", reg.Client.OwnerID)

			stored, err := store.FindClient(ctx, reg.Client.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.method, stored.TokenEndpointAuthMethod())

			if !tt.wantSecret {
				assert.Empty(t, reg.ClientSecret)
				assert.False(t, stored.Parameters.Has(storage.ParamClientSecretHash))
				return
			}
			require.NotEmpty(t, reg.ClientSecret)
			assert.True(t, authmethod.VerifySecret(stored, reg.ClientSecret))
			if tt.storedClear {
				assert.Equal(t, reg.ClientSecret, stored.Parameters.GetString(storage.ParamClientSecret))
			} else {
				assert.False(t, stored.Parameters.Has(storage.ParamClientSecret), "secret must only be stored hashed")
				assert.NotEmpty(t, stored.Parameters.GetString(storage.ParamClientSecretHash))
			}
		})
	}
}

func TestRegister_Rejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), databag.New(map[string]any{
		storage.ParamRedirectURIs: []string{"javascript:alert(1)"},
	}), "owner-1")
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidRedirectURI))
}

func TestUpdate_KeepsHashedSecret(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, databag.New(webClient), "owner-1")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, reg.Client.ID, databag.New(map[string]any{
		storage.ParamRedirectURIs: []string{"https://client.example.com/new"},
	}), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, updated.ClientSecret, "no new secret issued")

	stored, err := store.FindClient(ctx, reg.Client.ID)
	require.NoError(t, err)
	assert.True(t, authmethod.VerifySecret(stored, reg.ClientSecret))
	assert.Equal(t, []string{"https://client.example.com/new"}, stored.RedirectURIs())
	assert.Empty(t, stored.Parameters.GetString(storage.ParamClientName), "update replaces metadata")
	assert.Equal(t, reg.Client.CreatedAt, stored.CreatedAt)
}

func TestUpdate_KeepsClearSecretForHMAC(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	command := withParams(webClient, map[string]any{storage.ParamTokenEndpointAuthMethod: authmethod.MethodClientSecretJWT})
	reg, err := svc.Register(ctx, command, "owner-1")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, reg.Client.ID, command, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, updated.ClientSecret)

	stored, err := store.FindClient(ctx, reg.Client.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ClientSecret, stored.Parameters.GetString(storage.ParamClientSecret))
}

func TestUpdate_MethodChange(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, databag.New(webClient), "owner-1")
	require.NoError(t, err)

	t.Run("to client_secret_post issues a new secret", func(t *testing.T) {
		updated, err := svc.Update(ctx, reg.Client.ID, withParams(webClient, map[string]any{
			storage.ParamTokenEndpointAuthMethod: authmethod.MethodClientSecretPost,
		}), "owner-1")
		require.NoError(t, err)
		require.NotEmpty(t, updated.ClientSecret)
		assert.NotEqual(t, reg.ClientSecret, updated.ClientSecret)
	})

	t.Run("to none drops the secret", func(t *testing.T) {
		_, err := svc.Update(ctx, reg.Client.ID, withParams(webClient, map[string]any{
			storage.ParamTokenEndpointAuthMethod: authmethod.MethodNone,
		}), "owner-1")
		require.NoError(t, err)

		stored, err := store.FindClient(ctx, reg.Client.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsPublic())
		assert.False(t, stored.Parameters.Has(storage.ParamClientSecretHash))
	})
}

func TestOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, databag.New(webClient), "owner-1")
	require.NoError(t, err)

	_, err = svc.Update(ctx, reg.Client.ID, databag.New(webClient), "owner-2")
	assert.ErrorIs(t, err, ErrClientOwnership)
	assert.ErrorIs(t, svc.Delete(ctx, reg.Client.ID, "owner-2"), ErrClientOwnership)

	_, err = svc.Get(ctx, reg.Client.ID, "")
	assert.NoError(t, err, "empty owner skips the check")
}

func TestDelete_IsSoft(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, databag.New(webClient), "owner-1")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, reg.Client.ID, "owner-1"))

	stored, err := store.FindClient(ctx, reg.Client.ID)
	require.NoError(t, err, "deleted clients are kept")
	assert.True(t, stored.IsDeleted())

	_, err = svc.Get(ctx, reg.Client.ID, "owner-1")
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))

	_, err = svc.Update(ctx, reg.Client.ID, databag.New(webClient), "owner-1")
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))

	_, err = svc.Get(ctx, "missing", "")
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidClient))
}
