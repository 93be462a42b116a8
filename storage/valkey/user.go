package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/storage"
)

// dummyHash is compared against for unknown usernames so that lookups take
// the same time whether or not the account exists (bcrypt hash of "test").
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SaveUserAccount stores a resource owner with a bcrypt hash of password.
func (s *Store) SaveUserAccount(ctx context.Context, user *storage.UserAccount, password string) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("invalid user account")
	}
	if err := validateID("user", user.ID); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	stored := *user
	stored.PasswordHash = string(hash)

	if err := s.setJSON(ctx, s.userKey(user.ID), toUserAccountJSON(&stored), time.Time{}); err != nil {
		return fmt.Errorf("failed to save user account: %w", err)
	}
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.usernameKey(strings.ToLower(user.Username))).Value(user.ID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index username: %w", err)
	}
	return nil
}

// FindUserAccount retrieves a user account by ID
func (s *Store) FindUserAccount(ctx context.Context, userID string) (*storage.UserAccount, error) {
	j, err := getAndUnmarshal[userAccountJSON](ctx, s, s.userKey(userID), storage.ErrUserAccountNotFound)
	if err != nil {
		return nil, err
	}
	return fromUserAccountJSON(j), nil
}

// FindUserAccountByUsernameAndPassword authenticates a resource owner.
// Unknown users and wrong passwords both return storage.ErrInvalidUserCredentials.
func (s *Store) FindUserAccountByUsernameAndPassword(ctx context.Context, username, password string) (*storage.UserAccount, error) {
	var user *storage.UserAccount
	userID, err := s.client.Do(ctx, s.client.B().Get().Key(s.usernameKey(strings.ToLower(username))).Build()).ToString()
	if err == nil {
		user, err = s.FindUserAccount(ctx, userID)
	}
	if err != nil && !isNilError(err) && !storage.IsNotFound(err) {
		return nil, err
	}

	hash := dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	// ALWAYS perform bcrypt comparison
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if user == nil || bcryptErr != nil {
		return nil, storage.ErrInvalidUserCredentials
	}

	user.LastLoginAt = time.Now()
	if err := s.setJSON(ctx, s.userKey(user.ID), toUserAccountJSON(user), time.Time{}); err != nil {
		s.logger.Warn("Failed to record last login", "user_prefix", util.SafeTruncate(user.ID, tokenIDLogLength), "error", err)
	}
	return user, nil
}

// HasConsent reports whether userID granted every scope in scopes to clientID
func (s *Store) HasConsent(ctx context.Context, userID, clientID string, scopes []string) (bool, error) {
	granted, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.consentKey(userID, clientID)).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read consent: %w", err)
	}
	if len(granted) == 0 {
		return false, nil
	}
	return util.ContainsAll(granted, scopes), nil
}

// SaveConsent adds scopes to what userID granted clientID
func (s *Store) SaveConsent(ctx context.Context, userID, clientID string, scopes []string) error {
	if len(scopes) == 0 {
		// an empty SET does not exist in Valkey; store a marker so consent without scopes is remembered
		scopes = []string{""}
	}
	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(s.consentKey(userID, clientID)).Member(scopes...).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}
