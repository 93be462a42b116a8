package tokenendpoint

import (
	"context"
	"net/http"

	"github.com/giantswarm/oauth2-engine/granttype"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Issued holds the tokens created for a request and the response parameters
type Issued struct {
	AccessToken  *storage.AccessToken
	RefreshToken *storage.RefreshToken
	Parameters   map[string]any
}

// BeforeNext continues the chain before token issuance
type BeforeNext func(ctx context.Context, r *http.Request, data *granttype.Data) error

// AfterNext continues the chain after token issuance
type AfterNext func(ctx context.Context, r *http.Request, data *granttype.Data, issued *Issued) error

// Extension hooks into the token endpoint around token issuance. Each hook
// must call next to continue the chain. After hooks see the minted tokens
// before they are saved; an error there aborts the request without issuing
// anything.
type Extension interface {
	BeforeAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, next BeforeNext) error
	AfterAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, issued *Issued, next AfterNext) error
}

// PassThrough implements both hooks by calling next. Embed it in extensions
// that only need one of them.
type PassThrough struct{}

// BeforeAccessTokenIssuance implements Extension
func (PassThrough) BeforeAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, next BeforeNext) error {
	return next(ctx, r, data)
}

// AfterAccessTokenIssuance implements Extension
func (PassThrough) AfterAccessTokenIssuance(ctx context.Context, r *http.Request, data *granttype.Data, issued *Issued, next AfterNext) error {
	return next(ctx, r, data, issued)
}

func (e *Endpoint) before(index int) BeforeNext {
	return func(ctx context.Context, r *http.Request, data *granttype.Data) error {
		if index >= len(e.extensions) {
			return nil
		}
		return e.extensions[index].BeforeAccessTokenIssuance(ctx, r, data, e.before(index+1))
	}
}

func (e *Endpoint) after(index int) AfterNext {
	return func(ctx context.Context, r *http.Request, data *granttype.Data, issued *Issued) error {
		if index >= len(e.extensions) {
			return nil
		}
		return e.extensions[index].AfterAccessTokenIssuance(ctx, r, data, issued, e.after(index+1))
	}
}
