package provider

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/oppfinder/internal/domain"
)

func TestIsValid(t *testing.T) {
	for _, p := range All() {
		if !p.IsValid() {
			t.Errorf("%q.IsValid() = false, want true", p)
		}
	}

	invalid := []Provider{"", "gemini", "OPENAI", "cohere"}
	for _, p := range invalid {
		if p.IsValid() {
			t.Errorf("%q.IsValid() = true, want false", p)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
	}{
		{"openai", OpenAI},
		{"OpenAI", OpenAI},
		{" voyage ", Voyage},
		{"ollama", Ollama},
		{"", Voyage},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in, Voyage)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse("gemini", OpenAI)
	if !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
