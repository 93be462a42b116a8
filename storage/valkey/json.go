package valkey

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Scopes are stored space-delimited and metadata as an embedded JSON string:
// the Lua scripts re-encode records with cjson, which turns empty arrays into objects.

type clientJSON struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Parameters databag.DataBag `json:"parameters"`
	Deleted    bool            `json:"deleted,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

type tokenJSON struct {
	ID                  string            `json:"id"`
	ClientID            string            `json:"client_id"`
	ResourceOwnerID     string            `json:"resource_owner_id,omitempty"`
	Scope               string            `json:"scope,omitempty"`
	Metadata            string            `json:"metadata,omitempty"`
	Parameters          map[string]string `json:"parameters,omitempty"`
	IssuedAt            int64             `json:"issued_at"`
	ExpiresAt           int64             `json:"expires_at"`
	Revoked             bool              `json:"revoked"`
	AuthorizationCodeID string            `json:"authorization_code_id,omitempty"`
	RefreshTokenID      string            `json:"refresh_token_id,omitempty"`
}

type authorizationCodeJSON struct {
	ID                  string            `json:"id"`
	ClientID            string            `json:"client_id"`
	ResourceOwnerID     string            `json:"resource_owner_id,omitempty"`
	Scope               string            `json:"scope,omitempty"`
	RedirectURI         string            `json:"redirect_uri,omitempty"`
	CodeChallenge       string            `json:"code_challenge,omitempty"`
	CodeChallengeMethod string            `json:"code_challenge_method,omitempty"`
	QueryParameters     map[string]string `json:"query_parameters,omitempty"`
	Metadata            string            `json:"metadata,omitempty"`
	IssuedAt            int64             `json:"issued_at"`
	ExpiresAt           int64             `json:"expires_at"`
	Used                bool              `json:"used"`
}

type userAccountJSON struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Claims       string `json:"claims,omitempty"`
	LastLoginAt  int64  `json:"last_login_at,omitempty"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:         c.ID,
		OwnerID:    c.OwnerID,
		Parameters: c.Parameters,
		Deleted:    c.Deleted,
		CreatedAt:  unixOrZero(c.CreatedAt),
		UpdatedAt:  unixOrZero(c.UpdatedAt),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ID:         j.ID,
		OwnerID:    j.OwnerID,
		Parameters: j.Parameters,
		Deleted:    j.Deleted,
		CreatedAt:  timeOrZero(j.CreatedAt),
		UpdatedAt:  timeOrZero(j.UpdatedAt),
	}
}

func toAccessTokenJSON(t *storage.AccessToken) *tokenJSON {
	return &tokenJSON{
		ID:                  t.ID,
		ClientID:            t.ClientID,
		ResourceOwnerID:     t.ResourceOwnerID,
		Scope:               strings.Join(t.Scopes, " "),
		Metadata:            encodeMap(t.Metadata),
		Parameters:          t.Parameters,
		IssuedAt:            unixOrZero(t.IssuedAt),
		ExpiresAt:           unixOrZero(t.ExpiresAt),
		Revoked:             t.Revoked,
		AuthorizationCodeID: t.AuthorizationCodeID,
		RefreshTokenID:      t.RefreshTokenID,
	}
}

func fromAccessTokenJSON(j *tokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		ID:                  j.ID,
		ClientID:            j.ClientID,
		ResourceOwnerID:     j.ResourceOwnerID,
		Scopes:              strings.Fields(j.Scope),
		Metadata:            decodeMap(j.Metadata),
		Parameters:          j.Parameters,
		IssuedAt:            timeOrZero(j.IssuedAt),
		ExpiresAt:           timeOrZero(j.ExpiresAt),
		Revoked:             j.Revoked,
		AuthorizationCodeID: j.AuthorizationCodeID,
		RefreshTokenID:      j.RefreshTokenID,
	}
}

func toRefreshTokenJSON(t *storage.RefreshToken) *tokenJSON {
	return &tokenJSON{
		ID:                  t.ID,
		ClientID:            t.ClientID,
		ResourceOwnerID:     t.ResourceOwnerID,
		Scope:               strings.Join(t.Scopes, " "),
		Metadata:            encodeMap(t.Metadata),
		Parameters:          t.Parameters,
		IssuedAt:            unixOrZero(t.IssuedAt),
		ExpiresAt:           unixOrZero(t.ExpiresAt),
		Revoked:             t.Revoked,
		AuthorizationCodeID: t.AuthorizationCodeID,
	}
}

func fromRefreshTokenJSON(j *tokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		ID:                  j.ID,
		ClientID:            j.ClientID,
		ResourceOwnerID:     j.ResourceOwnerID,
		Scopes:              strings.Fields(j.Scope),
		Metadata:            decodeMap(j.Metadata),
		Parameters:          j.Parameters,
		IssuedAt:            timeOrZero(j.IssuedAt),
		ExpiresAt:           timeOrZero(j.ExpiresAt),
		Revoked:             j.Revoked,
		AuthorizationCodeID: j.AuthorizationCodeID,
	}
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		ID:                  c.ID,
		ClientID:            c.ClientID,
		ResourceOwnerID:     c.ResourceOwnerID,
		Scope:               strings.Join(c.Scopes, " "),
		RedirectURI:         c.RedirectURI,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		QueryParameters:     c.QueryParameters,
		Metadata:            encodeMap(c.Metadata),
		IssuedAt:            unixOrZero(c.IssuedAt),
		ExpiresAt:           unixOrZero(c.ExpiresAt),
		Used:                c.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		ID:                  j.ID,
		ClientID:            j.ClientID,
		ResourceOwnerID:     j.ResourceOwnerID,
		Scopes:              strings.Fields(j.Scope),
		RedirectURI:         j.RedirectURI,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		QueryParameters:     j.QueryParameters,
		Metadata:            decodeMap(j.Metadata),
		IssuedAt:            timeOrZero(j.IssuedAt),
		ExpiresAt:           timeOrZero(j.ExpiresAt),
		Used:                j.Used,
	}
}

func toUserAccountJSON(u *storage.UserAccount) *userAccountJSON {
	return &userAccountJSON{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Claims:       encodeMap(u.Claims),
		LastLoginAt:  unixOrZero(u.LastLoginAt),
	}
}

func fromUserAccountJSON(j *userAccountJSON) *storage.UserAccount {
	return &storage.UserAccount{
		ID:           j.ID,
		Username:     j.Username,
		PasswordHash: j.PasswordHash,
		Claims:       decodeMap(j.Claims),
		LastLoginAt:  timeOrZero(j.LastLoginAt),
	}
}

func encodeMap(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// issuedAtOrNow fills a missing issue time
func issuedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
