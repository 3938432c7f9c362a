package ai

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerGemini       = "gemini"
)

// GeminiClient calls the Google AI Studio generateContent API.
type GeminiClient struct {
	api endpoint
}

// NewGeminiClient fails with ErrNotConfigured when apiKey is blank.
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key required", ErrNotConfigured)
	}
	api := newEndpoint(providerGemini, "", defaultGeminiBaseURL)
	api.headers.Set("x-goog-api-key", apiKey)
	return &GeminiClient{api: api}, nil
}

// WithBaseURL points the client at a proxy or test server. Blank keeps the default.
func (c *GeminiClient) WithBaseURL(baseURL string) *GeminiClient {
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		c.api.baseURL = trimmed
	}
	return c
}

// GenerateContent runs one prompt against model. Both "gemini-x" and
// "models/gemini-x" are accepted.
func (c *GeminiClient) GenerateContent(ctx context.Context, model string, req Request) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if strings.TrimSpace(req.System) != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	var reply generateResponse
	if err := c.api.post(ctx, "/models/"+url.PathEscape(model)+":generateContent", body, &reply); err != nil {
		return "", err
	}
	if len(reply.Candidates) == 0 {
		return "", providerErr(providerGemini, "no candidates returned")
	}
	parts := reply.Candidates[0].Content.Parts
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}
	return replyText(providerGemini, texts...)
}

// GeminiGenerator pins a GeminiClient to one model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: strings.TrimSpace(model)}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, req Request) (string, error) {
	if err := requireModel(providerGemini, g.model); err != nil {
		return "", err
	}
	return g.client.GenerateContent(ctx, g.model, req)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
