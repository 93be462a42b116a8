package security

import "time"

// DefaultClockSkewGracePeriod tolerates small clock differences between
// instances when evicting expired entries.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt lies before now by more than the default grace period.
// A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, now, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod reports whether expiresAt+grace lies before now.
func IsExpiredWithGracePeriod(expiresAt, now time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}
