package provider

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/oppfinder/internal/domain"
)

// Provider names an embedding backend.
type Provider string

// Supported embedding providers.
const (
	OpenAI Provider = "openai"
	// Voyage is Voyage AI's hosted embedding API.
	Voyage Provider = "voyage"
	// Ollama is a self-hosted Ollama server.
	Ollama Provider = "ollama"
)

// All lists every supported provider.
func All() []Provider {
	return []Provider{OpenAI, Voyage, Ollama}
}

// IsValid checks if the provider is one of the supported values.
func (p Provider) IsValid() bool {
	return p == OpenAI || p == Voyage || p == Ollama
}

// Parse maps a client-supplied name to a Provider. Matching is case-insensitive;
// an empty name yields fallback.
func Parse(name string, fallback Provider) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fallback, nil
	}
	p := Provider(name)
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, name)
	}
	return p, nil
}
