package storage

import "errors"

// Sentinel errors returned by repository implementations.
// Callers match them with errors.Is; implementations may wrap them with context.
var (
	ErrClientNotFound               = errors.New("client not found")
	ErrTokenNotFound                = errors.New("token not found")
	ErrTokenExpired                 = errors.New("token expired")
	ErrTokenRevoked                 = errors.New("token revoked")
	ErrAuthorizationCodeNotFound    = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed        = errors.New("authorization code already used")
	ErrAuthorizationRequestNotFound = errors.New("authorization request not found")
	ErrUserAccountNotFound          = errors.New("user account not found")
	ErrInvalidUserCredentials       = errors.New("invalid user credentials")
	ErrJTIReplayed                  = errors.New("token identifier already used")
)

// IsNotFound reports whether err signals a missing entity of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrAuthorizationRequestNotFound) ||
		errors.Is(err, ErrUserAccountNotFound)
}
