package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth2:"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers (client, token, flow IDs)
	MaxIDLength = 256

	// MaxFlowDataSize is the maximum size of a serialized authorization flow (64KB)
	MaxFlowDataSize = 64 * 1024
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor seals client secrets and authorization flows at rest
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientRepository            = (*Store)(nil)
	_ storage.AccessTokenRepository       = (*Store)(nil)
	_ storage.RefreshTokenRepository      = (*Store)(nil)
	_ storage.AuthorizationCodeRepository = (*Store)(nil)
	_ storage.TokenRevocationStore        = (*Store)(nil)
	_ storage.AuthorizationRequestStorage = (*Store)(nil)
	_ storage.UserAccountRepository       = (*Store)(nil)
	_ storage.ConsentRepository           = (*Store)(nil)
	_ storage.JTIStore                    = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the encryptor used for client secrets and flows at rest.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// ============================================================
// Keys
// ============================================================

func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

func (s *Store) accessTokenKey(tokenID string) string {
	return s.prefix + "access:" + tokenID
}

func (s *Store) refreshTokenKey(tokenID string) string {
	return s.prefix + "refresh:" + tokenID
}

func (s *Store) codeKey(codeID string) string {
	return s.prefix + "code:" + codeID
}

func (s *Store) codeTokensKey(codeID string) string {
	return s.prefix + "code:tokens:" + codeID
}

func (s *Store) flowKey(flowID string) string {
	return s.prefix + "flow:" + flowID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *Store) usernameKey(username string) string {
	return s.prefix + "user:name:" + username
}

func (s *Store) consentKey(userID, clientID string) string {
	return s.prefix + "consent:" + userID + ":" + clientID
}

func (s *Store) jtiKey(issuer, jti string) string {
	return s.prefix + "jti:" + issuer + ":" + jti
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaAtomicCheckAndMarkCodeUsed atomically checks that an authorization code
// is unused and unexpired and marks it as used.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns the updated JSON on success, "NOT_FOUND", "EXPIRED", or
// "ALREADY_USED:<json>" so the caller can revoke tokens issued from the code.
const luaAtomicCheckAndMarkCodeUsed = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and expiresAt > 0 and now >= expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
local encoded = cjson.encode(code)
redis.call('SET', KEYS[1], encoded, 'KEEPTTL')

return encoded
`

// luaAtomicRevokeRefreshToken atomically checks that a refresh token is active
// and marks it revoked.
//
// KEYS[1] = refresh token key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns the updated JSON on success, "NOT_FOUND", "EXPIRED", or
// "ALREADY_REVOKED:<json>".
const luaAtomicRevokeRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(token.expires_at)
if expiresAt and expiresAt > 0 and now >= expiresAt then
    return 'EXPIRED'
end

if token.revoked then
    return 'ALREADY_REVOKED:' .. data
end

token.revoked = true
local encoded = cjson.encode(token)
redis.call('SET', KEYS[1], encoded, 'KEEPTTL')

return encoded
`

// luaRevokeToken flags a stored token as revoked. Returns 1 if the flag changed.
//
// KEYS[1] = access or refresh token key
const luaRevokeToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 0
end

local token = cjson.decode(data)
if token.revoked then
    return 0
end

token.revoked = true
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')
return 1
`

// luaMarkOnce stores a marker key unless it already exists.
//
// KEYS[1] = marker key
// ARGV[1] = TTL in milliseconds
//
// Returns 1 if the marker was stored, 0 if it already existed.
const luaMarkOnce = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
return 1
`

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal fetches a key and decodes its JSON payload into J.
func getAndUnmarshal[J any](ctx context.Context, s *Store, key string, notFoundErr error) (*J, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return &j, nil
}

// setJSON stores v under key, with a TTL derived from expiresAt when set.
func (s *Store) setJSON(ctx context.Context, key string, v any, expiresAt time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if expiresAt.IsZero() {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	}

	ttl := calculateTTL(expiresAt)
	if ttl <= 0 {
		// already expired: nothing worth storing
		return nil
	}
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
}

func (s *Store) evalString(ctx context.Context, script, key string, args ...string) (string, error) {
	return s.client.Do(ctx,
		s.client.B().Eval().Script(script).Numkeys(1).Key(key).Arg(args...).Build(),
	).ToString()
}

func nowArg() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID cannot be empty", kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s ID: %w", kind, errInputTooLarge)
	}
	return nil
}

// calculateTTL calculates the TTL for a key based on expiry time
// Returns 0 if the key has already expired
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
