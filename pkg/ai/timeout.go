package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// timeoutGenerator bounds every call with a deadline and normalizes failures
// into *ProviderError so callers only deal with one error shape.
type timeoutGenerator struct {
	next     TextGenerator
	provider string
	timeout  time.Duration
}

// WithTimeout wraps gen so each call gives up after d. A non-positive d keeps
// the caller's deadline only.
func WithTimeout(gen TextGenerator, provider string, d time.Duration) TextGenerator {
	return &timeoutGenerator{next: gen, provider: provider, timeout: d}
}

func (g *timeoutGenerator) GenerateText(ctx context.Context, req Request) (string, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.next.GenerateText(callCtx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, ErrNotConfigured) {
		return "", err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", &ProviderError{
			Provider: g.provider,
			Message:  fmt.Sprintf("generation timed out after %s", g.timeout),
			Timeout:  true,
		}
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return "", perr
	}
	return "", &ProviderError{Provider: g.provider, Message: err.Error()}
}
