package classify

import (
	"strings"
	"testing"
)

func TestRedactCredentialShapes(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		secret string
	}{
		{"openai key", "Incorrect API key provided: sk-proj-abc123def456ghi789jkl", "sk-proj-abc123def456ghi789jkl"},
		{"google key", "API key not valid: AIzaSyD4x9kQ1mN2pR3sT4uV5wX6yZ7aB", "AIzaSyD4x9kQ1mN2pR3sT4uV5wX6yZ7aB"},
		{"bearer token", "request rejected, header was Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig", "eyJhbGciOiJIUzI1NiJ9.payload.sig"},
		{"key assignment", `failed with api_key="supersecretvalue123"`, "supersecretvalue123"},
		{"x-api-key header", "upstream echoed x-api-key: topsecret-apikey-value", "topsecret-apikey-value"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Redact(tc.input)
			if strings.Contains(got, tc.secret) {
				t.Errorf("Redact(%q) = %q, still contains the secret", tc.input, got)
			}
			if !strings.Contains(got, redactedPlaceholder) {
				t.Errorf("Redact(%q) = %q, expected a placeholder", tc.input, got)
			}
		})
	}
}

func TestRedactLeavesOrdinaryTextAlone(t *testing.T) {
	input := "the model gpt-4o is not available in this region"
	if got := Redact(input); got != input {
		t.Errorf("Redact(%q) = %q, want unchanged", input, got)
	}
}
