package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured marks a provider that cannot run because required settings
// (model, API key) are missing. It is a configuration error, never a runtime one.
var ErrNotConfigured = errors.New("ai provider not configured")

// Request is one text-generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// TextGenerator generates text for a prompt within a response-length budget.
// All providers (OpenAI-compatible, Gemini, Ollama) implement this interface and
// report every upstream failure as *ProviderError.
type TextGenerator interface {
	GenerateText(ctx context.Context, req Request) (string, error)
}

// ProviderError is an upstream generation failure: auth, rate limit, timeout or
// malformed response. Callers treat all of them the same way.
type ProviderError struct {
	Provider string
	Message  string
	Timeout  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func providerErr(provider, format string, args ...any) *ProviderError {
	return &ProviderError{Provider: provider, Message: fmt.Sprintf(format, args...)}
}
