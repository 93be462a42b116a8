package storage

import (
	"context"
	"time"
)

// ClientRepository defines the interface for managing registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientRepository interface {
	// FindClient retrieves a client by ID, including soft-deleted clients.
	// Returns ErrClientNotFound when no client exists.
	FindClient(ctx context.Context, clientID string) (*Client, error)

	// SaveClient creates or replaces a client
	SaveClient(ctx context.Context, client *Client) error
}

// AccessTokenRepository defines the interface for issued access tokens.
type AccessTokenRepository interface {
	// CreateAccessToken builds a new access token from template, assigning its
	// identifier and issue time. The token is not persisted until saved.
	CreateAccessToken(ctx context.Context, template AccessToken) (*AccessToken, error)

	// FindAccessToken retrieves an access token by ID
	FindAccessToken(ctx context.Context, tokenID string) (*AccessToken, error)

	// SaveAccessToken persists an access token
	SaveAccessToken(ctx context.Context, token *AccessToken) error
}

// RefreshTokenRepository defines the interface for issued refresh tokens.
type RefreshTokenRepository interface {
	// CreateRefreshToken builds a new refresh token from template, assigning its
	// identifier and issue time. The token is not persisted until saved.
	CreateRefreshToken(ctx context.Context, template RefreshToken) (*RefreshToken, error)

	// FindRefreshToken retrieves a refresh token by ID
	FindRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error)

	// SaveRefreshToken persists a refresh token
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// AtomicRevokeRefreshToken atomically checks that a refresh token is active
	// and marks it revoked. It returns the token on success, and also together
	// with ErrTokenRevoked when the token had already been revoked so callers
	// can react to reuse.
	// SECURITY: This operation MUST be atomic to prevent concurrent refresh attacks.
	AtomicRevokeRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error)
}

// AuthorizationCodeRepository defines the interface for authorization codes.
type AuthorizationCodeRepository interface {
	// CreateAuthorizationCode builds a new code from template, assigning its
	// identifier and issue time. The code is not persisted until saved.
	CreateAuthorizationCode(ctx context.Context, template AuthorizationCode) (*AuthorizationCode, error)

	// FindAuthorizationCode retrieves an authorization code by ID
	FindAuthorizationCode(ctx context.Context, codeID string) (*AuthorizationCode, error)

	// SaveAuthorizationCode persists an authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// AtomicCheckAndMarkAuthorizationCodeUsed atomically checks if a code is unused and marks it as used.
	// Returns the code if successful, or an error if:
	// - Code not found (ErrAuthorizationCodeNotFound)
	// - Code expired (ErrTokenExpired)
	// - Code already used (ErrAuthorizationCodeUsed, the code is returned as well)
	// SECURITY: This operation MUST be atomic to prevent concurrent code exchange attacks.
	AtomicCheckAndMarkAuthorizationCodeUsed(ctx context.Context, codeID string) (*AuthorizationCode, error)
}

// TokenRevocationStore supports revoking every token issued from one authorization code.
// This is optional - used when authorization code reuse is detected.
type TokenRevocationStore interface {
	// RevokeTokensByAuthorizationCode revokes all access and refresh tokens
	// issued from the code. Returns the number of tokens revoked.
	RevokeTokensByAuthorizationCode(ctx context.Context, codeID string) (int, error)
}

// AuthorizationRequestStorage keeps in-flight authorization flows across the
// login/consent redirect sequence. Values are opaque serialized flows.
type AuthorizationRequestStorage interface {
	// GenerateAuthorizationRequestID returns a new unguessable flow identifier
	GenerateAuthorizationRequestID() string

	// GetAuthorizationRequest returns the stored flow or ErrAuthorizationRequestNotFound
	GetAuthorizationRequest(ctx context.Context, id string) ([]byte, error)

	// SetAuthorizationRequest stores a flow until expiresAt
	SetAuthorizationRequest(ctx context.Context, id string, data []byte, expiresAt time.Time) error

	// HasAuthorizationRequest reports whether a flow is stored under id
	HasAuthorizationRequest(ctx context.Context, id string) (bool, error)

	// RemoveAuthorizationRequest discards a flow
	RemoveAuthorizationRequest(ctx context.Context, id string) error
}

// UserAccountRepository resolves resource owners.
type UserAccountRepository interface {
	// FindUserAccount retrieves a user account by ID
	FindUserAccount(ctx context.Context, userID string) (*UserAccount, error)

	// FindUserAccountByUsernameAndPassword authenticates a resource owner.
	// Returns ErrInvalidUserCredentials when the pair does not match.
	FindUserAccountByUsernameAndPassword(ctx context.Context, username, password string) (*UserAccount, error)
}

// ConsentRepository remembers scopes a user already granted to a client.
// This is optional - without it every flow asks for consent.
type ConsentRepository interface {
	// HasConsent reports whether userID granted every scope in scopes to clientID
	HasConsent(ctx context.Context, userID, clientID string, scopes []string) (bool, error)

	// SaveConsent records that userID granted scopes to clientID
	SaveConsent(ctx context.Context, userID, clientID string, scopes []string) error
}

// JTIStore records JWT identifiers of accepted assertions to reject replays.
type JTIStore interface {
	// MarkJTIUsed stores issuer+jti until expiresAt.
	// Returns ErrJTIReplayed if the pair was already recorded.
	MarkJTIUsed(ctx context.Context, issuer, jti string, expiresAt time.Time) error
}
