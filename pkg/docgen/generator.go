package docgen

import (
	"context"
	"errors"
	"strings"

	"ideaforge/pkg/ai"
	"ideaforge/pkg/domain"
)

var ErrUnknownType = errors.New("unknown document type")

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7

	// Short wizard answers do not need the full document budget.
	wizardMaxTokens = 512
)

// Options tunes the response budget sent to the provider. A nil Temperature
// uses the default; zero is a valid setting.
type Options struct {
	MaxTokens   int
	Temperature *float64
}

// Generator turns project data into generated text. It never retries; the
// provider's *ai.ProviderError is returned unchanged.
type Generator struct {
	text        ai.TextGenerator
	maxTokens   int
	temperature float64
}

// New builds a Generator over any text backend.
func New(text ai.TextGenerator, opts Options) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	temperature := defaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return &Generator{text: text, maxTokens: opts.MaxTokens, temperature: temperature}
}

// Generate produces content for one document type.
func (g *Generator) Generate(ctx context.Context, docType domain.DocumentType, p domain.Project) (string, error) {
	prompt, err := DocumentPrompt(docType, p)
	if err != nil {
		return "", err
	}
	return g.call(ctx, prompt, g.maxTokens)
}

// RefineIdea returns a tightened version of the project's idea.
func (g *Generator) RefineIdea(ctx context.Context, p domain.Project) (string, error) {
	return g.call(ctx, RefinePrompt(p), wizardMaxTokens)
}

// SuggestAnswer drafts an answer to a detail question.
func (g *Generator) SuggestAnswer(ctx context.Context, p domain.Project, question string) (string, error) {
	return g.call(ctx, AnswerPrompt(p, question), wizardMaxTokens)
}

// Plan drafts the implementation plan.
func (g *Generator) Plan(ctx context.Context, p domain.Project) (string, error) {
	return g.call(ctx, PlanPrompt(p), g.maxTokens)
}

func (g *Generator) call(ctx context.Context, prompt string, maxTokens int) (string, error) {
	text, err := g.text.GenerateText(ctx, ai.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
