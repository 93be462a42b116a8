package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than maxLen", input: "short", maxLen: 10, want: "short"},
		{name: "equal to maxLen", input: "exactly10c", maxLen: 10, want: "exactly10c"},
		{name: "longer than maxLen", input: "this-is-a-very-long-token-string", maxLen: 8, want: "this-is-"},
		{name: "empty string", input: "", maxLen: 5, want: ""},
		{name: "zero maxLen", input: "test", maxLen: 0, want: ""},
		{name: "negative maxLen", input: "test", maxLen: -1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://as.example.com/", "https://as.example.com"},
		{"https://as.example.com", "https://as.example.com"},
		{"https://as.example.com///", "https://as.example.com"},
		{"https://as.example.com/oauth/token/", "https://as.example.com/oauth/token"},
		{"https://as.example.com:8443/", "https://as.example.com:8443"},
		{"", ""},
		{"///", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeURL(tt.input); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContainsAll(t *testing.T) {
	tests := []struct {
		name   string
		set    []string
		subset []string
		want   bool
	}{
		{name: "empty subset", set: []string{"openid"}, want: true},
		{name: "empty set and subset", want: true},
		{name: "subset", set: []string{"openid", "profile", "email"}, subset: []string{"email", "openid"}, want: true},
		{name: "missing element", set: []string{"openid"}, subset: []string{"openid", "admin"}, want: false},
		{name: "empty set", subset: []string{"openid"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsAll(tt.set, tt.subset); got != tt.want {
				t.Errorf("ContainsAll(%v, %v) = %v, want %v", tt.set, tt.subset, got, tt.want)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"openid", "email", "openid", "profile", "email"})
	want := []string{"openid", "email", "profile"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dedupe() = %v, want %v", got, want)
	}
	if Dedupe(nil) != nil {
		t.Error("Dedupe(nil) should return nil")
	}
}
