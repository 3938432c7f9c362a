package ai

import (
	"context"
	"strings"
)

const providerOpenAI = "openai-compat"

// OpenAICompatGenerator talks to any /chat/completions endpoint: OpenAI,
// vLLM, LiteLLM, OpenRouter.
type OpenAICompatGenerator struct {
	api   endpoint
	model string
}

// NewOpenAICompatGenerator expects baseURL to include the version prefix,
// e.g. "https://api.openai.com/v1". Local models may run without apiKey.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	api := newEndpoint(providerOpenAI, baseURL, defaultOpenAIBaseURL)
	if key := strings.TrimSpace(apiKey); key != "" {
		api.headers.Set("Authorization", "Bearer "+key)
	}
	return &OpenAICompatGenerator{api: api, model: strings.TrimSpace(model)}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, req Request) (string, error) {
	if err := requireModel(providerOpenAI, g.model); err != nil {
		return "", err
	}
	body := oaiChatRequest{
		Model:       g.model,
		Messages:    chatMessages[oaiMessage](req, func(role, text string) oaiMessage { return oaiMessage{Role: role, Content: text} }),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	var reply oaiChatResponse
	if err := g.api.post(ctx, "/chat/completions", body, &reply); err != nil {
		return "", err
	}
	if len(reply.Choices) == 0 {
		return "", providerErr(providerOpenAI, "no choices returned")
	}
	return replyText(providerOpenAI, reply.Choices[0].Message.Content)
}

// chatMessages lays out the optional system turn followed by the user prompt.
func chatMessages[M any](req Request, mk func(role, text string) M) []M {
	out := make([]M, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		out = append(out, mk("system", req.System))
	}
	return append(out, mk("user", req.Prompt))
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}
