package util

import "strings"

// SafeTruncate truncates s to maxLen bytes without panicking.
// A negative maxLen returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
// Assertion audiences are matched against the issuer and token endpoint
// this way, so "https://as.example.com/" and "https://as.example.com" are equal.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ContainsAll reports whether every element of subset is present in set.
// An empty subset is always contained.
func ContainsAll(set, subset []string) bool {
	if len(subset) == 0 {
		return true
	}
	index := make(map[string]struct{}, len(set))
	for _, s := range set {
		index[s] = struct{}{}
	}
	for _, s := range subset {
		if _, ok := index[s]; !ok {
			return false
		}
	}
	return true
}

// Dedupe returns values without duplicates, keeping first occurrences in order.
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
