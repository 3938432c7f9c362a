package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxReplyBytes caps how much of a provider reply is buffered.
const maxReplyBytes = 8 << 20

// endpoint posts JSON to one provider. Deadlines come from the caller's
// context (see WithTimeout), so the http.Client carries no timeout of its own.
type endpoint struct {
	provider string
	baseURL  string
	headers  http.Header
	client   *http.Client
}

func newEndpoint(provider, baseURL, fallback string) endpoint {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = fallback
	}
	return endpoint{
		provider: provider,
		baseURL:  baseURL,
		headers:  http.Header{"Content-Type": {"application/json"}},
		client:   &http.Client{},
	}
}

// post sends payload to baseURL+path and decodes a 2xx reply into out.
// Every failure is a *ProviderError.
func (e endpoint) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return providerErr(e.provider, "encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return providerErr(e.provider, "build request: %v", err)
	}
	for k, v := range e.headers {
		req.Header[k] = v
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return providerErr(e.provider, "request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return providerErr(e.provider, "read response: %v", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return providerErr(e.provider, "api error (%d): %s", resp.StatusCode, upstreamMessage(raw, resp.Status))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providerErr(e.provider, "decode response: %v", err)
	}
	return nil
}

// upstreamMessage digs the human-readable message out of an error body.
// Ollama replies {"error":"..."}; OpenAI and Gemini reply {"error":{"message":"..."}}.
func upstreamMessage(raw []byte, fallback string) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) != nil || len(envelope.Error) == 0 {
		return fallback
	}
	var flat string
	if json.Unmarshal(envelope.Error, &flat) == nil && flat != "" {
		return flat
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	return fallback
}

// replyText trims the assembled reply and reports an empty one as a
// provider failure.
func replyText(provider string, parts ...string) (string, error) {
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", providerErr(provider, "empty response")
	}
	return text, nil
}

func requireModel(provider, model string) error {
	if model == "" {
		return fmt.Errorf("%w: %s generation model required", ErrNotConfigured, provider)
	}
	return nil
}
