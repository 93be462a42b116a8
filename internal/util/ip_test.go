package util

import (
	"net"
	"testing"
)

func TestClassifyIP(t *testing.T) {
	tests := []struct {
		name     string
		ip       string
		expected IPClassification
	}{
		{"IPv4 unspecified", "0.0.0.0", IPClassificationUnspecified},
		{"IPv6 unspecified", "::", IPClassificationUnspecified},
		{"IPv4 loopback", "127.0.0.1", IPClassificationLoopback},
		{"IPv4 loopback range", "127.255.255.255", IPClassificationLoopback},
		{"IPv6 loopback", "::1", IPClassificationLoopback},
		{"IPv4 link-local", "169.254.0.1", IPClassificationLinkLocal},
		{"IPv4 cloud metadata", "169.254.169.254", IPClassificationLinkLocal},
		{"IPv6 link-local unicast", "fe80::1", IPClassificationLinkLocal},
		{"IPv6 link-local multicast", "ff02::1", IPClassificationLinkLocal},
		{"IPv4 private 10.x", "10.0.0.1", IPClassificationPrivate},
		{"IPv4 private 172.16.x", "172.16.0.1", IPClassificationPrivate},
		{"IPv4 private 192.168.x", "192.168.1.1", IPClassificationPrivate},
		{"IPv6 ULA", "fd00::1", IPClassificationPrivate},
		{"IPv4 public", "8.8.8.8", IPClassificationPublic},
		{"IPv6 public", "2001:4860:4860::8888", IPClassificationPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("Failed to parse IP: %s", tt.ip)
			}
			if got := ClassifyIP(ip); got != tt.expected {
				t.Errorf("ClassifyIP(%s) = %v, want %v", tt.ip, got, tt.expected)
			}
		})
	}

	if got := ClassifyIP(nil); got != IPClassificationUnspecified {
		t.Errorf("ClassifyIP(nil) = %v, want %v", got, IPClassificationUnspecified)
	}
}

func TestIPClassification_String(t *testing.T) {
	tests := map[IPClassification]string{
		IPClassificationPublic:      "public",
		IPClassificationLoopback:    "loopback",
		IPClassificationPrivate:     "private",
		IPClassificationLinkLocal:   "link_local",
		IPClassificationUnspecified: "unspecified",
		IPClassification(99):        "unknown",
	}

	for c, want := range tests {
		if got := c.String(); got != want {
			t.Errorf("IPClassification(%d).String() = %q, want %q", int(c), got, want)
		}
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		hostname string
		expected bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"app.localhost", true},
		{"127.0.0.1", true},
		{"127.255.255.255", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", false},
		{"10.0.0.1", false},
		{"example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			if got := IsLoopbackHostname(tt.hostname); got != tt.expected {
				t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.hostname, got, tt.expected)
			}
		})
	}
}

func TestIsInternalHostname(t *testing.T) {
	tests := []struct {
		hostname string
		expected bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"[fd00::1]", true},
		{"8.8.8.8", false},
		{"client.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			if got := IsInternalHostname(tt.hostname); got != tt.expected {
				t.Errorf("IsInternalHostname(%q) = %v, want %v", tt.hostname, got, tt.expected)
			}
		})
	}
}
