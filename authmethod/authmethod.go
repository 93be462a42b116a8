// Package authmethod resolves and verifies client credentials at the token
// endpoint.
//
// A Manager holds the enabled authentication methods. It first asks every
// method to extract a client identifier and credentials from the request;
// at most one credential-bearing method may succeed (the "none" method is
// exempt because it carries no credential). The selected method then
// verifies the credentials against the stored client, and the manager
// enforces the post-checks: the client exists, is not soft-deleted, its
// credentials did not expire and its configured token_endpoint_auth_method
// is served by the selected method.
package authmethod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Authentication method names (RFC 7591 token_endpoint_auth_method values)
const (
	MethodNone              = "none"
	MethodClientSecretBasic = "client_secret_basic"
	MethodClientSecretPost  = "client_secret_post"
	MethodClientSecretJWT   = "client_secret_jwt"
	MethodPrivateKeyJWT     = "private_key_jwt"
)

// Request parameters read by the methods
const (
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"
)

// Error descriptions returned to clients
const (
	errDescMultipleMethods = "Only one authentication method may be used to authenticate the client."
	errDescAuthFailed      = "Client authentication failed."
)

// Method is one client authentication method.
type Method interface {
	// SupportedMethods returns the token_endpoint_auth_method values this
	// method serves.
	SupportedMethods() []string

	// SchemesParameters returns WWW-Authenticate challenges, if any.
	SchemesParameters() []string

	// FindClientIDAndCredentials extracts the client identifier and the
	// credentials. found is false when the request does not use this method.
	FindClientIDAndCredentials(r *http.Request) (clientID string, credentials any, found bool, err error)

	// IsClientAuthenticated verifies credentials for client.
	IsClientAuthenticated(ctx context.Context, r *http.Request, client *storage.Client, credentials any) bool

	// CheckClientConfiguration validates and completes client registration
	// parameters for this method.
	CheckClientConfiguration(command, validated databag.DataBag) (databag.DataBag, error)
}

// Result is the outcome of credential extraction.
type Result struct {
	ClientID    string
	Credentials any
	Method      Method
}

// Manager dispatches client authentication to the registered methods.
// It is read-only after construction.
type Manager struct {
	methods         []Method
	byName          map[string]Method
	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	now             func() time.Time
}

// NewManager registers methods in order
func NewManager(methods ...Method) *Manager {
	m := &Manager{byName: make(map[string]Method), logger: slog.Default(), now: time.Now}
	for _, method := range methods {
		m.methods = append(m.methods, method)
		for _, name := range method.SupportedMethods() {
			m.byName[name] = method
		}
	}
	return m
}

// SetLogger sets the logger
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetAuditor makes failed authentications appear in the audit log
func (m *Manager) SetAuditor(a *security.Auditor) {
	m.auditor = a
}

// SetInstrumentation enables authentication metrics
func (m *Manager) SetInstrumentation(inst *instrumentation.Instrumentation) {
	m.instrumentation = inst
}

// SetClock overrides the time source (for testing)
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Get returns the method serving name
func (m *Manager) Get(name string) (Method, bool) {
	method, ok := m.byName[name]
	return method, ok
}

// Has reports whether name is served
func (m *Manager) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Names returns every served token_endpoint_auth_method, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemesParameters returns the WWW-Authenticate challenges of all methods
func (m *Manager) SchemesParameters() []string {
	var out []string
	for _, method := range m.methods {
		out = append(out, method.SchemesParameters()...)
	}
	return out
}

// FindClientIDAndCredentials asks every method for credentials. An empty
// Result means no method identified a client.
func (m *Manager) FindClientIDAndCredentials(r *http.Request) (Result, error) {
	var found []Result
	for _, method := range m.methods {
		clientID, credentials, ok, err := method.FindClientIDAndCredentials(r)
		if err != nil {
			return Result{}, err
		}
		if ok {
			found = append(found, Result{ClientID: clientID, Credentials: credentials, Method: method})
		}
	}
	if len(found) == 0 {
		return Result{}, nil
	}

	// none carries no credential and does not count against exclusivity.
	var credentialed []Result
	for _, res := range found {
		if !isNone(res.Method) {
			credentialed = append(credentialed, res)
		}
	}
	if len(credentialed) > 1 {
		return Result{}, oautherr.InvalidRequest(errDescMultipleMethods)
	}

	selected := found[0]
	if len(credentialed) == 1 {
		selected = credentialed[0]
	}
	for _, res := range found {
		if res.ClientID != selected.ClientID {
			return Result{}, oautherr.InvalidRequest("The client identifiers of the request do not match.")
		}
	}
	return selected, nil
}

// IsClientAuthenticated runs the post-checks and the method's verification
func (m *Manager) IsClientAuthenticated(ctx context.Context, r *http.Request, client *storage.Client, method Method, credentials any) bool {
	_, err := m.check(ctx, r, client, method, credentials)
	return err == nil
}

func (m *Manager) check(ctx context.Context, r *http.Request, client *storage.Client, method Method, credentials any) (string, error) {
	switch {
	case client == nil:
		return "unknown client", errAuthFailed
	case client.IsDeleted():
		return "client deleted", errAuthFailed
	case client.AreClientCredentialsExpired(m.now()):
		return "client credentials expired", errAuthFailed
	case method == nil || !slices.Contains(method.SupportedMethods(), client.TokenEndpointAuthMethod()):
		return "authentication method mismatch", errAuthFailed
	case !method.IsClientAuthenticated(ctx, r, client, credentials):
		return "invalid credentials", errAuthFailed
	}
	return "", nil
}

var errAuthFailed = errors.New("client authentication failed")

// Authenticate resolves the client of r and verifies its credentials.
// Every post-check failure yields the same 401 invalid_client error.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request, clients storage.ClientRepository) (*storage.Client, Result, error) {
	res, err := m.FindClientIDAndCredentials(r)
	if err != nil {
		return nil, Result{}, err
	}
	if res.ClientID == "" {
		m.fail(ctx, "", "", "no client credentials")
		return nil, res, oautherr.InvalidClient(errDescAuthFailed)
	}

	client, err := clients.FindClient(ctx, res.ClientID)
	if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		return nil, res, fmt.Errorf("failed to load client: %w", err)
	}

	if reason, err := m.check(ctx, r, client, res.Method, res.Credentials); err != nil {
		m.fail(ctx, res.ClientID, methodName(res.Method), reason)
		return nil, res, oautherr.InvalidClient(errDescAuthFailed)
	}

	if m.instrumentation != nil {
		m.instrumentation.Metrics().RecordClientAuthentication(ctx, client.TokenEndpointAuthMethod(), true)
	}
	return client, res, nil
}

func (m *Manager) fail(ctx context.Context, clientID, method, reason string) {
	m.logger.WarnContext(ctx, "Client authentication failed",
		"client_id", util.SafeTruncate(clientID, 64),
		"method", method,
		"reason", reason)
	m.auditor.LogClientAuthFailure(ctx, clientID, method, reason)
	if m.instrumentation != nil {
		m.instrumentation.Metrics().RecordClientAuthentication(ctx, method, false)
	}
}

func isNone(method Method) bool {
	names := method.SupportedMethods()
	return len(names) == 1 && names[0] == MethodNone
}

func methodName(method Method) string {
	if method == nil {
		return ""
	}
	names := method.SupportedMethods()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
