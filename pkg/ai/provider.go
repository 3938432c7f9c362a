package ai

import (
	"fmt"
	"strings"
	"time"
)

// Supported provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config selects and configures a generation backend.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// NewGenerator builds the configured provider wrapped with the call timeout.
// Missing credentials or model yield an error wrapping ErrNotConfigured.
func NewGenerator(cfg Config) (TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: %s generation model required", ErrNotConfigured, provider)
	}
	var gen TextGenerator
	switch provider {
	case ProviderOpenAI:
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultOpenAIBaseURL
			// The hosted endpoint always needs a key; self-hosted ones may not.
			if strings.TrimSpace(cfg.APIKey) == "" {
				return nil, fmt.Errorf("%w: openai api key required", ErrNotConfigured)
			}
		}
		gen = NewOpenAICompatGenerator(baseURL, cfg.APIKey, cfg.Model)
	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		gen = NewGeminiGenerator(client.WithBaseURL(cfg.BaseURL), cfg.Model)
	case ProviderOllama:
		gen = NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), cfg.Model)
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
	return WithTimeout(gen, provider, cfg.Timeout), nil
}
