package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than limit", "short", 10, "short"},
		{"equal to limit", "exactly10c", 10, "exactly10c"},
		{"request id prefix", "Xk3p9QmZ7vT2wL5nR8sY1aB4cD6eF0gH", 8, "Xk3p9QmZ"},
		{"empty", "", 5, ""},
		{"zero limit", "token", 0, ""},
		{"negative limit", "token", -1, ""},
		{"cuts bytes not runes", "hello世界", 6, "hello\xe4"},
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
		{"https://auth.example.com/", "https://auth.example.com"},
		{"https://auth.example.com", "https://auth.example.com"},
		{"https://auth.example.com///", "https://auth.example.com"},
		{"https://auth.example.com/tenant/a/", "https://auth.example.com/tenant/a"},
		{"https://auth.example.com:8443/", "https://auth.example.com:8443"},
		{"///", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeURL(tt.input); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
