package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/storage"
)

// dummyPasswordHash keeps the comparison time constant for unknown usernames
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)

// AddUserAccount stores a resource owner with a bcrypt hash of password.
// It is a provisioning helper for tests and development setups.
func (s *Store) AddUserAccount(ctx context.Context, user *storage.UserAccount, password string) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("user ID and username cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	stored := *user
	stored.PasswordHash = string(hash)
	stored.Claims = maps.Clone(user.Claims)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = &stored
	s.usernames[strings.ToLower(user.Username)] = user.ID
	return nil
}

// FindUserAccount retrieves a user account by ID
func (s *Store) FindUserAccount(ctx context.Context, userID string) (*storage.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserAccountNotFound
	}
	return cloneUser(user), nil
}

// FindUserAccountByUsernameAndPassword authenticates a resource owner.
// Unknown users and wrong passwords both return ErrInvalidUserCredentials.
func (s *Store) FindUserAccountByUsernameAndPassword(ctx context.Context, username, password string) (user *storage.UserAccount, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_user_by_credentials")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_user_by_credentials", err, startTime) }()

	s.mu.RLock()
	stored, ok := s.users[s.usernames[strings.ToLower(username)]]
	var hash []byte
	if ok {
		hash = []byte(stored.PasswordHash)
	}
	s.mu.RUnlock()

	// bcrypt runs outside the lock
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		return nil, storage.ErrInvalidUserCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		s.logger.Debug("Resource owner password mismatch",
			"user_prefix", util.SafeTruncate(stored.ID, tokenIDLogLength))
		return nil, storage.ErrInvalidUserCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored.LastLoginAt = s.now()
	return cloneUser(stored), nil
}

// ============================================================
// ConsentRepository Implementation
// ============================================================

// HasConsent reports whether userID granted every scope in scopes to clientID
func (s *Store) HasConsent(ctx context.Context, userID, clientID string, scopes []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	granted, ok := s.consents[consentKey(userID, clientID)]
	if !ok {
		return false, nil
	}
	return util.ContainsAll(granted, scopes), nil
}

// SaveConsent adds scopes to what userID granted clientID
func (s *Store) SaveConsent(ctx context.Context, userID, clientID string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey(userID, clientID)
	s.consents[key] = util.Dedupe(append(slices.Clone(s.consents[key]), scopes...))
	return nil
}

func consentKey(userID, clientID string) string {
	return userID + "\x00" + clientID
}

func cloneUser(u *storage.UserAccount) *storage.UserAccount {
	out := *u
	out.Claims = maps.Clone(u.Claims)
	return &out
}
