package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultOpenRouterURL is the chat completions endpoint.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// openRouterRequest is the request body for the chat completions API.
type openRouterRequest struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
}

// openRouterResponse is the subset of the API response the adapter reads.
type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenRouter is an Adapter that reaches every provider's model through the
// OpenRouter API. It stands in for the per-provider browser transports on
// hosts that have an API key instead of authenticated sessions.
type OpenRouter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenRouter builds an adapter with the given key. timeout bounds each
// individual model call; the council core imposes no timeout of its own.
func NewOpenRouter(apiKey, baseURL string, timeout time.Duration) *OpenRouter {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send issues one chat completion request and returns the full response text.
func (o *OpenRouter) Send(ctx context.Context, providerID, model, prompt string, prior []Turn) (string, error) {
	messages := make([]Turn, 0, len(prior)+1)
	messages = append(messages, prior...)
	messages = append(messages, Turn{Role: "user", Content: prompt})

	payload := openRouterRequest{
		Model:    model,
		Messages: messages,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("provider %s returned status %d: %s", providerID, resp.StatusCode, string(bodyBytes))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResponse openRouterResponse
	if err := json.Unmarshal(bodyBytes, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return apiResponse.Choices[0].Message.Content, nil
}
