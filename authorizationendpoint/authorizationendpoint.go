// Package authorizationendpoint implements the OAuth2 authorization endpoint
// (RFC 6749 section 3.1) as a resumable flow.
//
// A request is validated by the parameter checkers, then walks through an
// ordered hook chain (prompt=none, account selection, login, consent). A hook
// that needs the resource owner stops the chain with a redirect to the
// matching UI and the flow is stored under an authorization ID. The UI
// updates the stored flow (Login, SelectAccount, Allow, Deny) and sends the
// browser back with authorization_id, which resumes the chain. Once the flow
// is decided the after-consent extensions run, the response type issues the
// credentials and the response mode delivers them to the client.
package authorizationendpoint

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/response"
	"github.com/giantswarm/oauth2-engine/scope"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// ParamAuthorizationID carries the flow ID when the UI sends the browser back
const ParamAuthorizationID = "authorization_id"

// DefaultFlowLifetime bounds how long a flow may wait for the resource owner
const DefaultFlowLifetime = 10 * time.Minute

// CurrentUserResolver returns the resource owner already authenticated in
// the browser session, if any. Session handling belongs to the host. A zero
// authTime sends the user through the login step.
type CurrentUserResolver interface {
	CurrentUser(ctx context.Context, r *http.Request) (user *storage.UserAccount, authTime time.Time, err error)
}

// Config configures the authorization endpoint
type Config struct {
	Clients  storage.ClientRepository
	Users    storage.UserAccountRepository
	Requests storage.AuthorizationRequestStorage
	Checkers *authorization.ParameterCheckerManager
	Hooks    []Hook
	// Extensions run in order once the flow is decided.
	Extensions []AfterConsentExtension
	// Consents, when set, remembers granted scopes so later flows skip the consent UI.
	Consents storage.ConsentRepository
	// Sessions is optional; without it every new flow starts anonymous.
	Sessions     CurrentUserResolver
	FlowLifetime time.Duration

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

// Endpoint is the authorization endpoint
type Endpoint struct {
	cfg        Config
	flows      *flowStore
	loader     AuthorizationRequestLoader
	hooks      []Hook
	extensions []AfterConsentExtension
	tracer     trace.Tracer
}

// New creates the endpoint
func New(cfg Config) *Endpoint {
	if cfg.FlowLifetime <= 0 {
		cfg.FlowLifetime = DefaultFlowLifetime
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var tracer trace.Tracer = noop.NewTracerProvider().Tracer("authorizationendpoint")
	if cfg.Instrumentation != nil {
		tracer = cfg.Instrumentation.Tracer("authorizationendpoint")
	}

	loader := AuthorizationRequestLoader{Clients: cfg.Clients}
	return &Endpoint{
		cfg: cfg,
		flows: &flowStore{
			requests: cfg.Requests,
			loader:   loader,
			users:    cfg.Users,
			lifetime: cfg.FlowLifetime,
		},
		loader:     loader,
		hooks:      cfg.Hooks,
		extensions: cfg.Extensions,
		tracer:     tracer,
	}
}

// Process handles an authorization request or resumes a stored flow.
// A returned error must be rendered directly to the user agent with
// ErrorResponse, never redirected: the redirect URI is not trusted for it.
func (e *Endpoint) Process(ctx context.Context, r *http.Request) (*response.Response, error) {
	ctx, span := e.tracer.Start(ctx, "authorizationendpoint.Process")
	defer span.End()

	resp, err := e.process(ctx, r)
	if err != nil {
		oe := oautherr.From(err)
		instrumentation.AddOAuthErrorAttributes(span, oe.Code, oe.Description)
		instrumentation.RecordError(span, err)
		if oe.Code == oautherr.CodeServerError {
			e.cfg.Logger.ErrorContext(ctx, "Authorization request failed", "error", err)
		}
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (e *Endpoint) process(ctx context.Context, r *http.Request) (*response.Response, error) {
	if err := r.ParseForm(); err != nil {
		return nil, oautherr.InvalidRequest("The request parameters could not be parsed.")
	}

	flowID := r.Form.Get(ParamAuthorizationID)
	stored := flowID != ""

	var auth *authorization.Authorization
	var err error
	if stored {
		auth, err = e.flows.load(ctx, flowID)
	} else {
		auth, err = e.start(ctx, r)
		flowID = e.flows.generateID()
	}
	if err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("oauth.client_id", auth.Client().ID),
		attribute.Bool("oauth.flow_resumed", stored),
	)

	if err := e.cfg.Checkers.Process(ctx, auth); err != nil {
		if stored {
			e.discard(ctx, flowID)
		}
		e.recordRequest(ctx, auth, "invalid")
		return nil, err
	}

	// a refusal ends the flow wherever the resource owner gave it
	if auth.Decision() == authorization.Denied {
		return e.finish(ctx, r, flowID, stored, auth)
	}

	resp, err := e.hook(0)(ctx, r, flowID, auth)
	if err != nil {
		if isRedirectableError(err) {
			return e.respondError(ctx, flowID, stored, auth, oautherr.From(err))
		}
		return nil, err
	}
	if resp != nil {
		if err := e.flows.save(ctx, flowID, auth); err != nil {
			return nil, err
		}
		e.recordRequest(ctx, auth, "interaction")
		return resp, nil
	}
	if !auth.IsDecided() {
		return nil, fmt.Errorf("hook chain finished without a decision for client %s", auth.Client().ID)
	}
	return e.finish(ctx, r, flowID, stored, auth)
}

// start creates the Authorization of a new request
func (e *Endpoint) start(ctx context.Context, r *http.Request) (*authorization.Authorization, error) {
	auth, err := e.loader.Load(ctx, r)
	if err != nil {
		return nil, err
	}
	if e.cfg.Sessions != nil {
		user, authTime, err := e.cfg.Sessions.CurrentUser(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve current user: %w", err)
		}
		if user != nil {
			auth.SetUser(user, authTime)
		}
	}
	return auth, nil
}

func (e *Endpoint) hook(index int) HookNext {
	if index >= len(e.hooks) {
		return func(context.Context, *http.Request, string, *authorization.Authorization) (*response.Response, error) {
			return nil, nil
		}
	}
	return func(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization) (*response.Response, error) {
		continued := false
		next := func(ctx context.Context, r *http.Request, flowID string, auth *authorization.Authorization) (*response.Response, error) {
			continued = true
			return e.hook(index+1)(ctx, r, flowID, auth)
		}

		h := e.hooks[index]
		resp, err := h.Handle(ctx, r, flowID, auth, next)
		if resp != nil && !continued && e.cfg.Instrumentation != nil {
			if p, ok := h.(prompter); ok {
				e.cfg.Instrumentation.Metrics().RecordPromptRedirect(ctx, p.Prompt())
			}
		}
		return resp, err
	}
}

// finish runs the after-consent extensions, issues the credentials of an
// allowed flow and delivers the outcome through the response mode.
func (e *Endpoint) finish(ctx context.Context, r *http.Request, flowID string, stored bool, auth *authorization.Authorization) (*response.Response, error) {
	if err := e.afterConsent(0)(ctx, r, auth); err != nil {
		if isRedirectableError(err) {
			return e.respondError(ctx, flowID, stored, auth, oautherr.From(err))
		}
		return nil, err
	}

	client := auth.Client()
	userID := ""
	if user := auth.User(); user != nil {
		userID = user.ID
	}
	allowed := auth.Decision() == authorization.Allowed
	e.cfg.Auditor.LogAuthorizationDecision(ctx, userID, client.ID, allowed, scope.Format(auth.ConsentedScopes()))
	if e.cfg.Instrumentation != nil {
		e.cfg.Instrumentation.Metrics().RecordAuthorizationDecision(ctx, client.ID, auth.Decision().String())
	}

	if !allowed {
		description := auth.DenyDescription()
		if description == "" {
			description = "The resource owner denied the request."
		}
		return e.respondError(ctx, flowID, stored, auth, oautherr.AccessDenied(description))
	}

	if err := auth.ResponseType().Process(ctx, auth); err != nil {
		if isRedirectableError(err) {
			return e.respondError(ctx, flowID, stored, auth, oautherr.From(err))
		}
		return nil, err
	}
	if e.cfg.Consents != nil && userID != "" {
		if err := e.cfg.Consents.SaveConsent(ctx, userID, client.ID, auth.ConsentedScopes()); err != nil {
			e.cfg.Logger.WarnContext(ctx, "Failed to remember consent", "client_id", client.ID, "error", err)
		}
	}

	resp, err := auth.ResponseMode().BuildResponse(auth.RedirectURI(), auth.ResponseParameters(), auth.ResponseHeaders())
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization response: %w", err)
	}
	if stored {
		e.discard(ctx, flowID)
	}
	e.recordRequest(ctx, auth, "completed")
	return resp, nil
}

// respondError delivers oe to the client's redirect URI. Only called once
// the parameter checkers trusted the redirect URI and resolved the mode.
func (e *Endpoint) respondError(ctx context.Context, flowID string, stored bool, auth *authorization.Authorization, oe *oautherr.Error) (*response.Response, error) {
	params := oe.Parameters()
	if state := auth.QueryParam(authorization.ParamState); state != "" {
		params[authorization.ParamState] = state
	}
	resp, err := auth.ResponseMode().BuildResponse(auth.RedirectURI(), params, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization error response: %w", err)
	}
	if stored {
		e.discard(ctx, flowID)
	}
	e.recordRequest(ctx, auth, oe.Code)
	return resp, nil
}

func (e *Endpoint) discard(ctx context.Context, flowID string) {
	if err := e.flows.remove(ctx, flowID); err != nil {
		e.cfg.Logger.WarnContext(ctx, "Failed to remove authorization flow", "error", err)
	}
}

func (e *Endpoint) recordRequest(ctx context.Context, auth *authorization.Authorization, outcome string) {
	if e.cfg.Instrumentation != nil {
		e.cfg.Instrumentation.Metrics().RecordAuthorizationRequest(ctx, auth.Client().ID, outcome)
	}
}

// isRedirectableError reports whether err is an outcome the client must
// receive at its redirect URI rather than a request the user agent sent wrong.
func isRedirectableError(err error) bool {
	for _, code := range []string{
		oautherr.CodeLoginRequired,
		oautherr.CodeConsentRequired,
		oautherr.CodeAccountSelectionNeeded,
		oautherr.CodeAccessDenied,
		oautherr.CodeInvalidScope,
	} {
		if oautherr.Is(err, code) {
			return true
		}
	}
	return false
}

// ErrorResponse renders an error returned by Process
func (e *Endpoint) ErrorResponse(err error) *response.Response {
	return response.Error(err)
}
