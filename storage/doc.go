// Package storage defines the data model and the repository contracts the
// authorization-server engine persists through.
//
// The engine never talks to a database directly. It depends on the narrow
// interfaces declared here:
//   - ClientRepository: registered clients (soft-deleted, never removed)
//   - AccessTokenRepository, RefreshTokenRepository, AuthorizationCodeRepository:
//     issued credentials, created and saved, only ever flipped to revoked/used
//   - AuthorizationRequestStorage: in-flight browser authorization flows keyed
//     by an opaque flow identifier
//   - UserAccountRepository, ConsentRepository, JTIStore: optional collaborators
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
