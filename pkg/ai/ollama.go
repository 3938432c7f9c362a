package ai

import (
	"context"
	"strings"
)

const (
	defaultOllamaBaseURL = "http://127.0.0.1:11434"
	providerOllama       = "ollama"
)

// OllamaClient is a local Ollama daemon.
type OllamaClient struct {
	api endpoint
}

func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{api: newEndpoint(providerOllama, baseURL, defaultOllamaBaseURL)}
}

// OllamaGenerator runs non-streaming /api/chat calls against one model.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, req Request) (string, error) {
	if err := requireModel(providerOllama, g.model); err != nil {
		return "", err
	}
	body := ollamaChatRequest{
		Model:    g.model,
		Messages: chatMessages[ollamaMessage](req, func(role, text string) ollamaMessage { return ollamaMessage{Role: role, Content: text} }),
		Options:  ollamaOptions{NumPredict: req.MaxTokens, Temperature: req.Temperature},
	}
	var reply ollamaChatResponse
	if err := g.client.api.post(ctx, "/api/chat", body, &reply); err != nil {
		return "", err
	}
	return replyText(providerOllama, reply.Message.Content)
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// num_predict caps output length; Stream is always false.
type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}
