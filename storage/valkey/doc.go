// Package valkey provides a Valkey storage backend for the authorization engine.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// The Store type implements every repository the engine consumes, making it
// suitable for deployments that run several engine instances behind a load
// balancer, where authorization flows must survive being resumed on another
// instance.
//
// # Implemented Interfaces
//
//   - [storage.ClientRepository]
//   - [storage.AccessTokenRepository], [storage.RefreshTokenRepository]
//   - [storage.AuthorizationCodeRepository], [storage.TokenRevocationStore]
//   - [storage.AuthorizationRequestStorage]
//   - [storage.UserAccountRepository], [storage.ConsentRepository]
//   - [storage.JTIStore]
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth2:"):
//
//	{prefix}client:{clientID}          -> JSON(Client), secrets encrypted
//	{prefix}access:{tokenID}           -> JSON(AccessToken) (with TTL)
//	{prefix}refresh:{tokenID}          -> JSON(RefreshToken) (with TTL)
//	{prefix}code:{codeID}              -> JSON(AuthorizationCode) (with TTL)
//	{prefix}code:tokens:{codeID}       -> SET of token keys issued from the code
//	{prefix}flow:{flowID}              -> sealed serialized flow (with TTL)
//	{prefix}user:{userID}              -> JSON(UserAccount)
//	{prefix}user:name:{username}       -> userID
//	{prefix}consent:{userID}:{client}  -> SET of granted scopes
//	{prefix}jti:{issuer}:{jti}         -> "1" (with TTL)
//
// # Atomic Operations
//
//   - AtomicCheckAndMarkAuthorizationCodeUsed: prevents authorization code replay
//   - AtomicRevokeRefreshToken: prevents concurrent refresh token reuse
//   - MarkJTIUsed: rejects replayed client assertions
//
// These operations use Lua scripts so that only one concurrent caller can succeed.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth2:",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address: "valkey.example.com:6380",
//	    TLS:     &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// Integration tests need a reachable server at VALKEY_TEST_ADDR
// (default localhost:6379) and are skipped otherwise.
package valkey
