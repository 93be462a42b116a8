package authorization

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/storage"
)

func TestDecisionIsOneShot(t *testing.T) {
	tests := []struct {
		name  string
		first func(*Authorization) error
		then  func(*Authorization) error
		want  Decision
	}{
		{"allow then deny", func(a *Authorization) error { return a.Allow(nil) }, func(a *Authorization) error { return a.Deny("no") }, Allowed},
		{"deny then allow", func(a *Authorization) error { return a.Deny("no") }, func(a *Authorization) error { return a.Allow(nil) }, Denied},
		{"allow twice", func(a *Authorization) error { return a.Allow(nil) }, func(a *Authorization) error { return a.Allow([]string{"x"}) }, Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(&storage.Client{ID: "c"}, databag.DataBag{})
			assert.Equal(t, Pending, a.Decision())
			require.NoError(t, tt.first(a))
			assert.ErrorIs(t, tt.then(a), ErrAlreadyDecided)
			assert.Equal(t, tt.want, a.Decision())
			assert.True(t, a.IsDecided())
		})
	}
}

func TestAllowDefaultsToResolvedScopes(t *testing.T) {
	a := New(&storage.Client{ID: "c"}, databag.DataBag{})
	a.SetScopes([]string{"openid", "email"})
	require.NoError(t, a.Allow(nil))
	assert.Equal(t, []string{"openid", "email"}, a.ConsentedScopes())
}

func TestPrompt(t *testing.T) {
	a := New(&storage.Client{ID: "c"}, databag.New(map[string]any{"prompt": "login  consent"}))
	assert.Equal(t, []string{"login", "consent"}, a.Prompt())
	assert.True(t, a.HasPrompt(PromptConsent))
	assert.False(t, a.HasPrompt(PromptNone))
}

func TestSnapshotRoundTrip(t *testing.T) {
	client := &storage.Client{ID: "client-1"}
	user := &storage.UserAccount{ID: "user-1"}
	authTime := time.Unix(1_700_000_000, 0).UTC()

	a := New(client, databag.New(map[string]any{"state": "s", "scope": "openid"}))
	a.SetUser(user, authTime)
	a.SetAttribute(AttributeUserAuthenticated, true)
	a.SetData("session", "abc")
	a.SetResponseParameter("state", "s")
	a.SetResponseHeader("Set-Cookie", "sid=1")
	require.NoError(t, a.Deny("user refused"))

	raw, err := json.Marshal(a.Snapshot())
	require.NoError(t, err)

	var s Snapshot
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, "client-1", s.ClientID)
	assert.Equal(t, "user-1", s.UserID)

	restored := Restore(s, client, user)
	assert.Equal(t, Denied, restored.Decision())
	assert.Equal(t, "user refused", restored.DenyDescription())
	assert.True(t, restored.Attribute(AttributeUserAuthenticated))
	assert.Equal(t, "s", restored.QueryParam("state"))
	assert.Equal(t, "s", restored.ResponseParameter("state"))
	assert.Equal(t, "sid=1", restored.ResponseHeaders().Get("Set-Cookie"))
	assert.True(t, authTime.Equal(restored.AuthTime()))
	v, ok := restored.Data("session")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	assert.ErrorIs(t, restored.Allow(nil), ErrAlreadyDecided)
}
