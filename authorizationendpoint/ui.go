package authorizationendpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Flow returns a stored flow, for the login, account selection and consent
// UI to display.
func (e *Endpoint) Flow(ctx context.Context, flowID string) (*authorization.Authorization, error) {
	return e.flows.load(ctx, flowID)
}

// UpdateFlow loads a stored flow, applies fn and stores it again.
func (e *Endpoint) UpdateFlow(ctx context.Context, flowID string, fn func(*authorization.Authorization) error) error {
	auth, err := e.flows.load(ctx, flowID)
	if err != nil {
		return err
	}
	if err := fn(auth); err != nil {
		return err
	}
	return e.flows.save(ctx, flowID, auth)
}

// Login records that user authenticated at authTime during the flow
func (e *Endpoint) Login(ctx context.Context, flowID string, user *storage.UserAccount, authTime time.Time) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	return e.UpdateFlow(ctx, flowID, func(auth *authorization.Authorization) error {
		auth.SetUser(user, authTime)
		auth.SetAttribute(authorization.AttributeUserAuthenticated, true)
		return nil
	})
}

// SelectAccount records the account picked by the resource owner. A nil user
// keeps the current one. Switching to another account drops the previous
// authentication, so the login step asks the new user to sign in.
func (e *Endpoint) SelectAccount(ctx context.Context, flowID string, user *storage.UserAccount) error {
	return e.UpdateFlow(ctx, flowID, func(auth *authorization.Authorization) error {
		if user != nil && (auth.User() == nil || auth.User().ID != user.ID) {
			auth.SetUser(user, time.Time{})
			auth.SetAttribute(authorization.AttributeUserAuthenticated, false)
		}
		auth.SetAttribute(authorization.AttributeAccountSelected, true)
		return nil
	})
}

// Allow records consent for scopes; nil grants every requested scope.
func (e *Endpoint) Allow(ctx context.Context, flowID string, scopes []string) error {
	return e.UpdateFlow(ctx, flowID, func(auth *authorization.Authorization) error {
		if scopes != nil && !util.ContainsAll(auth.Scopes(), scopes) {
			return oautherr.InvalidScope("The granted scopes exceed the requested scopes.")
		}
		return auth.Allow(scopes)
	})
}

// Deny records that the resource owner refused the request
func (e *Endpoint) Deny(ctx context.Context, flowID, description string) error {
	return e.UpdateFlow(ctx, flowID, func(auth *authorization.Authorization) error {
		return auth.Deny(description)
	})
}
