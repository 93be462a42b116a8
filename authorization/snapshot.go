package authorization

import (
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Snapshot is the serializable state of an Authorization kept between the
// redirects of one flow. Resolved response type and mode are not part of it;
// the parameter checkers resolve them again on every call.
type Snapshot struct {
	ClientID        string            `json:"client_id"`
	Query           map[string]any    `json:"query"`
	UserID          string            `json:"user_id,omitempty"`
	AuthTime        time.Time         `json:"auth_time,omitzero"`
	Scopes          []string          `json:"scopes,omitempty"`
	Data            map[string]any    `json:"data,omitempty"`
	Attributes      map[string]bool   `json:"attributes,omitempty"`
	ConsentedScopes []string          `json:"consented_scopes,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Headers         http.Header       `json:"headers,omitempty"`
	Decision        Decision          `json:"decision"`
	DenyDescription string            `json:"deny_description,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Snapshot captures the flow state
func (a *Authorization) Snapshot() Snapshot {
	s := Snapshot{
		Query:           a.query.All(),
		AuthTime:        a.authTime,
		Scopes:          slices.Clone(a.scopes),
		Data:            maps.Clone(a.data),
		Attributes:      maps.Clone(a.attributes),
		ConsentedScopes: slices.Clone(a.consentedScopes),
		Parameters:      maps.Clone(a.params),
		Headers:         a.headers.Clone(),
		Decision:        a.decision,
		DenyDescription: a.denyDescription,
		CreatedAt:       a.createdAt,
	}
	if a.client != nil {
		s.ClientID = a.client.ID
	}
	if a.user != nil {
		s.UserID = a.user.ID
	}
	return s
}

// Restore rebuilds an Authorization from s with the reloaded client and user.
func Restore(s Snapshot, client *storage.Client, user *storage.UserAccount) *Authorization {
	a := New(client, databag.New(s.Query))
	a.user = user
	a.authTime = s.AuthTime
	a.scopes = slices.Clone(s.Scopes)
	if s.Data != nil {
		a.data = maps.Clone(s.Data)
	}
	if s.Attributes != nil {
		a.attributes = maps.Clone(s.Attributes)
	}
	if s.Parameters != nil {
		a.params = maps.Clone(s.Parameters)
	}
	if s.Headers != nil {
		a.headers = s.Headers.Clone()
	}
	a.consentedScopes = slices.Clone(s.ConsentedScopes)
	a.decision = s.Decision
	a.denyDescription = s.DenyDescription
	if !s.CreatedAt.IsZero() {
		a.createdAt = s.CreatedAt
	}
	return a
}
