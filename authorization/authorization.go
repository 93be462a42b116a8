package authorization

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Decision is the outcome of an authorization flow
type Decision int

const (
	// Pending means the resource owner has not decided yet
	Pending Decision = iota
	// Allowed means the resource owner granted the request
	Allowed
	// Denied means the resource owner refused the request
	Denied
)

// String returns the decision name
func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "pending"
	}
}

// ErrAlreadyDecided is returned by Allow and Deny once a decision was taken
var ErrAlreadyDecided = errors.New("authorization already decided")

// Attributes set by the login and account selection UI
const (
	AttributeAccountSelected   = "account_has_been_selected"
	AttributeUserAuthenticated = "user_has_been_authenticated"
)

// Authorization is one browser authorization flow. It is owned by a single
// request at a time and is not safe for concurrent use.
type Authorization struct {
	client       *storage.Client
	query        databag.DataBag
	responseType ResponseType
	responseMode ResponseMode
	redirectURI  string
	user         *storage.UserAccount
	authTime     time.Time
	scopes       []string

	data            map[string]any
	attributes      map[string]bool
	consentedScopes []string
	params          map[string]string
	headers         http.Header

	decision        Decision
	denyDescription string
	createdAt       time.Time
}

// New creates a pending authorization for client from the request query
func New(client *storage.Client, query databag.DataBag) *Authorization {
	return &Authorization{
		client:     client,
		query:      query,
		data:       make(map[string]any),
		attributes: make(map[string]bool),
		params:     make(map[string]string),
		headers:    make(http.Header),
		createdAt:  time.Now(),
	}
}

// Client returns the requesting client
func (a *Authorization) Client() *storage.Client { return a.client }

// Query returns the raw request parameters
func (a *Authorization) Query() databag.DataBag { return a.query }

// QueryParam returns one raw request parameter
func (a *Authorization) QueryParam(key string) string { return a.query.GetString(key) }

// CreatedAt returns when the flow started
func (a *Authorization) CreatedAt() time.Time { return a.createdAt }

// ResponseType returns the resolved response type, or nil before checking
func (a *Authorization) ResponseType() ResponseType { return a.responseType }

// SetResponseType records the resolved response type
func (a *Authorization) SetResponseType(rt ResponseType) { a.responseType = rt }

// ResponseMode returns the resolved response mode, or nil before checking
func (a *Authorization) ResponseMode() ResponseMode { return a.responseMode }

// SetResponseMode records the resolved response mode
func (a *Authorization) SetResponseMode(rm ResponseMode) { a.responseMode = rm }

// RedirectURI returns the validated redirect URI, empty until it is trusted
func (a *Authorization) RedirectURI() string { return a.redirectURI }

// SetRedirectURI records the validated redirect URI
func (a *Authorization) SetRedirectURI(uri string) { a.redirectURI = uri }

// User returns the authenticated resource owner, if any
func (a *Authorization) User() *storage.UserAccount { return a.user }

// AuthTime returns when the resource owner last authenticated
func (a *Authorization) AuthTime() time.Time { return a.authTime }

// SetUser records the authenticated resource owner and authentication time
func (a *Authorization) SetUser(user *storage.UserAccount, authTime time.Time) {
	a.user = user
	a.authTime = authTime
}

// Scopes returns the resolved scopes
func (a *Authorization) Scopes() []string { return slices.Clone(a.scopes) }

// SetScopes records the resolved scopes
func (a *Authorization) SetScopes(scopes []string) { a.scopes = slices.Clone(scopes) }

// Prompt returns the prompt values of the request
func (a *Authorization) Prompt() []string {
	return strings.Fields(a.QueryParam(ParamPrompt))
}

// HasPrompt reports whether the request carries prompt value p
func (a *Authorization) HasPrompt(p string) bool {
	return slices.Contains(a.Prompt(), p)
}

// Data returns extension data stored under key
func (a *Authorization) Data(key string) (any, bool) {
	v, ok := a.data[key]
	return v, ok
}

// SetData stores extension data
func (a *Authorization) SetData(key string, value any) { a.data[key] = value }

// Attribute returns a UI attribute
func (a *Authorization) Attribute(name string) bool { return a.attributes[name] }

// SetAttribute records a UI attribute
func (a *Authorization) SetAttribute(name string, value bool) { a.attributes[name] = value }

// ConsentedScopes returns the scopes the resource owner granted
func (a *Authorization) ConsentedScopes() []string { return slices.Clone(a.consentedScopes) }

// ResponseParameters returns the accumulated response parameters
func (a *Authorization) ResponseParameters() map[string]string { return maps.Clone(a.params) }

// ResponseParameter returns one accumulated response parameter
func (a *Authorization) ResponseParameter(key string) string { return a.params[key] }

// SetResponseParameter adds a parameter to the final response
func (a *Authorization) SetResponseParameter(key, value string) { a.params[key] = value }

// ResponseHeaders returns the accumulated response headers
func (a *Authorization) ResponseHeaders() http.Header { return a.headers.Clone() }

// SetResponseHeader adds a header to the final response
func (a *Authorization) SetResponseHeader(key, value string) { a.headers.Set(key, value) }

// Decision returns the current decision
func (a *Authorization) Decision() Decision { return a.decision }

// IsDecided reports whether Allow or Deny was called
func (a *Authorization) IsDecided() bool { return a.decision != Pending }

// DenyDescription returns the description passed to Deny
func (a *Authorization) DenyDescription() string { return a.denyDescription }

// Allow grants the request for scopes. A nil scopes grants the resolved scopes.
func (a *Authorization) Allow(scopes []string) error {
	if a.IsDecided() {
		return ErrAlreadyDecided
	}
	if scopes == nil {
		scopes = a.scopes
	}
	a.decision = Allowed
	a.consentedScopes = slices.Clone(scopes)
	return nil
}

// Deny refuses the request
func (a *Authorization) Deny(description string) error {
	if a.IsDecided() {
		return ErrAlreadyDecided
	}
	a.decision = Denied
	a.denyDescription = description
	return nil
}
