// Package keyset verifies and decrypts JOSE objects for the engine.
//
// A KeySet verifies the signature of a compact JWS and returns its payload.
// Implementations cover inline JWK sets (StaticKeySet), shared HMAC secrets
// (SecretKeySet) and remote jwks_uri documents (RemoteKeySet, backed by
// go-oidc). RemoteCache keeps one RemoteKeySet per URL so that key rotation
// caching in go-oidc survives across requests.
//
// Decrypter opens compact JWE tokens, used for encrypted client assertions.
package keyset
