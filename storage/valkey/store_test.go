package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauth2test:%s:", strings.ReplaceAll(t.Name(), "/", "_"))

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}
		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}
		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStore_Clients(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, _ := security.GenerateKey()
	enc, _ := security.NewEncryptor(key)
	s.SetEncryptor(enc)

	require.NoError(t, s.SaveClient(ctx, &storage.Client{
		ID: "client-1",
		Parameters: databag.New(map[string]any{
			storage.ParamClientSecret: "s3cret",
			storage.ParamRedirectURIs: []string{"https://client.example.com/cb"},
		}),
	}))

	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey("client-1")).Build()).ToString()
	require.NoError(t, err)
	assert.NotContains(t, raw, "s3cret")

	got, err := s.FindClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Parameters.GetString(storage.ParamClientSecret))
	assert.Equal(t, []string{"https://client.example.com/cb"}, got.RedirectURIs())

	_, err = s.FindClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestStore_AuthorizationCodeLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, err := s.CreateAuthorizationCode(ctx, storage.AuthorizationCode{
		ClientID:  "client-1",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	found, err := s.FindAuthorizationCode(ctx, code.ID)
	require.NoError(t, err)
	assert.Empty(t, found.Scopes)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AtomicCheckAndMarkAuthorizationCodeUsed(ctx, code.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	reused, err := s.AtomicCheckAndMarkAuthorizationCodeUsed(ctx, code.ID)
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeUsed)
	require.NotNil(t, reused)
	assert.Equal(t, "client-1", reused.ClientID)

	_, err = s.AtomicCheckAndMarkAuthorizationCodeUsed(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_RefreshTokenRevocation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token, _ := s.CreateRefreshToken(ctx, storage.RefreshToken{
		ClientID:            "client-1",
		Scopes:              []string{"openid", "offline_access"},
		AuthorizationCodeID: "code-1",
		ExpiresAt:           time.Now().Add(time.Hour),
	})
	require.NoError(t, s.SaveRefreshToken(ctx, token))

	revoked, err := s.AtomicRevokeRefreshToken(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)
	assert.Equal(t, []string{"openid", "offline_access"}, revoked.Scopes)

	_, err = s.AtomicRevokeRefreshToken(ctx, token.ID)
	assert.ErrorIs(t, err, storage.ErrTokenRevoked)
}

func TestStore_RevokeTokensByAuthorizationCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	at, _ := s.CreateAccessToken(ctx, storage.AccessToken{AuthorizationCodeID: "code-1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, s.SaveAccessToken(ctx, at))
	rt, _ := s.CreateRefreshToken(ctx, storage.RefreshToken{AuthorizationCodeID: "code-1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, s.SaveRefreshToken(ctx, rt))

	n, err := s.RevokeTokensByAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.FindAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	n, err = s.RevokeTokensByAuthorizationCode(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_AuthorizationRequests(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, _ := security.GenerateKey()
	enc, _ := security.NewEncryptor(key)
	s.SetEncryptor(enc)

	id := s.GenerateAuthorizationRequestID()
	payload := []byte(`{"client_id":"client-1","user_id":"alice"}`)
	require.NoError(t, s.SetAuthorizationRequest(ctx, id, payload, time.Now().Add(time.Minute)))

	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.flowKey(id)).Build()).ToString()
	require.NoError(t, err)
	assert.NotContains(t, raw, "alice", "flows are sealed at rest")

	has, err := s.HasAuthorizationRequest(ctx, id)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := s.GetAuthorizationRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, s.RemoveAuthorizationRequest(ctx, id))
	_, err = s.GetAuthorizationRequest(ctx, id)
	assert.ErrorIs(t, err, storage.ErrAuthorizationRequestNotFound)

	assert.Error(t, s.SetAuthorizationRequest(ctx, "big", make([]byte, MaxFlowDataSize+1), time.Now().Add(time.Minute)))
}

func TestStore_UsersAndConsent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUserAccount(ctx, &storage.UserAccount{ID: "user-1", Username: "alice"}, "pw"))

	user, err := s.FindUserAccountByUsernameAndPassword(ctx, "ALICE", "pw")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	_, err = s.FindUserAccountByUsernameAndPassword(ctx, "alice", "nope")
	assert.ErrorIs(t, err, storage.ErrInvalidUserCredentials)
	_, err = s.FindUserAccountByUsernameAndPassword(ctx, "bob", "pw")
	assert.ErrorIs(t, err, storage.ErrInvalidUserCredentials)

	ok, err := s.HasConsent(ctx, "user-1", "client-1", []string{"openid"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveConsent(ctx, "user-1", "client-1", []string{"openid", "email"}))
	ok, _ = s.HasConsent(ctx, "user-1", "client-1", []string{"email"})
	assert.True(t, ok)
}

func TestStore_MarkJTIUsed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	require.NoError(t, s.MarkJTIUsed(ctx, "client-1", "jti-1", exp))
	assert.ErrorIs(t, s.MarkJTIUsed(ctx, "client-1", "jti-1", exp), storage.ErrJTIReplayed)
	assert.NoError(t, s.MarkJTIUsed(ctx, "client-2", "jti-1", exp))
}
