// Package memory provides an in-memory implementation of the engine's storage interfaces.
//
// A single Store implements ClientRepository, AccessTokenRepository,
// RefreshTokenRepository, AuthorizationCodeRepository, TokenRevocationStore,
// AuthorizationRequestStorage, UserAccountRepository, ConsentRepository and
// JTIStore using maps guarded by a sync.RWMutex. It is suitable for
// development, testing, and single-instance deployments where persistence is
// not required.
//
// Features:
//   - Atomic check-and-set for authorization code use and refresh token revocation
//   - Automatic cleanup of expired codes, tokens, flows and assertion identifiers
//   - Client secret encryption at rest via security.Encryptor
//   - OpenTelemetry spans, operation metrics and size gauges
//
// For multi-instance deployments use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := oauth.NewServer(oauth.Repositories{
//		Clients:               store,
//		AccessTokens:          store,
//		RefreshTokens:         store,
//		AuthorizationCodes:    store,
//		AuthorizationRequests: store,
//		UserAccounts:          store,
//	}, config, logger)
package memory
