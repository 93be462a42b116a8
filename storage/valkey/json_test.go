package valkey

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/storage"
)

// Records must survive a cjson re-encode, which rewrites empty arrays as objects.
func TestTokenJSON_AvoidsArrays(t *testing.T) {
	token := &storage.AccessToken{
		ID:       "t1",
		Scopes:   []string{"openid", "profile"},
		Metadata: map[string]any{"groups": []any{}},
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "[")

	var j tokenJSON
	require.NoError(t, json.Unmarshal(data, &j))
	back := fromAccessTokenJSON(&j)
	assert.Equal(t, token.Scopes, back.Scopes)
	assert.Equal(t, []any{}, back.Metadata["groups"])
}

func TestAuthorizationCodeJSON_Times(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	j := toAuthorizationCodeJSON(&storage.AuthorizationCode{ID: "c", ExpiresAt: exp})
	assert.Equal(t, int64(1_900_000_000), j.ExpiresAt)
	assert.Zero(t, j.IssuedAt, "unset times are stored as zero")

	back := fromAuthorizationCodeJSON(j)
	assert.True(t, back.ExpiresAt.Equal(exp))
	assert.True(t, back.IssuedAt.IsZero())
}

func TestValidateID(t *testing.T) {
	assert.Error(t, validateID("client", ""))
	assert.Error(t, validateID("client", string(make([]byte, MaxIDLength+1))))
	assert.NoError(t, validateID("client", "client-1"))
}
