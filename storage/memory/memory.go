// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	storageType = "memory"
)

type flowEntry struct {
	data      []byte
	expiresAt time.Time
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client // parameters encrypted at rest if encryptor is set
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	codes         map[string]*storage.AuthorizationCode
	flows         map[string]flowEntry
	users         map[string]*storage.UserAccount
	usernames     map[string]string   // username -> user ID
	consents      map[string][]string // user ID + client ID -> granted scopes
	jtis          map[string]time.Time

	encryptor *security.Encryptor

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	now func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
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

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		codes:           make(map[string]*storage.AuthorizationCode),
		flows:           make(map[string]flowEntry),
		users:           make(map[string]*storage.UserAccount),
		usernames:       make(map[string]string),
		consents:        make(map[string][]string),
		jtis:            make(map[string]time.Time),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the encryptor used for client secrets at rest
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Client secret encryption at rest enabled for storage")
	}
}

// SetClock replaces the time source, mainly for tests
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizeCallbacks{
		Clients:            s.sizeOf(func() int { return len(s.clients) }),
		AccessTokens:       s.sizeOf(func() int { return len(s.accessTokens) }),
		RefreshTokens:      s.sizeOf(func() int { return len(s.refreshTokens) }),
		AuthorizationCodes: s.sizeOf(func() int { return len(s.codes) }),
		AuthorizationFlows: s.sizeOf(func() int { return len(s.flows) }),
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) sizeOf(fn func() int) instrumentation.StorageSizeCallback {
	return func() int64 {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return int64(fn())
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired entries, honouring the clock skew grace period.
// Clients are never removed: deletion is a soft flag.
func (s *Store) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for id, code := range s.codes {
		if security.IsExpired(code.ExpiresAt, now) {
			delete(s.codes, id)
			cleaned++
		}
	}
	for id, token := range s.accessTokens {
		if security.IsExpired(token.ExpiresAt, now) {
			delete(s.accessTokens, id)
			cleaned++
		}
	}
	for id, token := range s.refreshTokens {
		if security.IsExpired(token.ExpiresAt, now) {
			delete(s.refreshTokens, id)
			cleaned++
		}
	}
	for id, flow := range s.flows {
		if security.IsExpired(flow.expiresAt, now) {
			delete(s.flows, id)
			cleaned++
		}
	}
	for key, expiresAt := range s.jtis {
		if security.IsExpired(expiresAt, now) {
			delete(s.jtis, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return cleaned
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	if tracer == nil {
		return ctx, noop.Span{}
	}

	ctx, span := tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(attribute.String("operation", operation)))
	instrumentation.AddStorageAttributes(span, operation, storageType)
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()

	result := "success"
	if err != nil && !storage.IsNotFound(err) {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	if inst == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
