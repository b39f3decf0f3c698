package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com"

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicClient creates a client for the Anthropic API.
// Model defaults to "claude-sonnet-4-20250514" if empty.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultAnthropicBaseURL,
		client:  http.DefaultClient,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *AnthropicClient) WithBaseURL(u string) *AnthropicClient {
	c.baseURL = u
	return c
}

func (c *AnthropicClient) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
}

func (c *AnthropicClient) payload(system, user string, stream bool) map[string]any {
	body := map[string]any{
		"model":      c.model,
		"max_tokens": 4096,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := postJSON(ctx, c.client, c.baseURL+"/v1/messages", c.headers(), c.payload(system, user, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", providerError("reading response: %v", err)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", providerError("parsing response: %v", err)
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", providerError("no text content in response")
}

func (c *AnthropicClient) Stream(ctx context.Context, system, user string, fn func(delta string) error) error {
	resp, err := postJSON(ctx, c.client, c.baseURL+"/v1/messages", c.headers(), c.payload(system, user, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readSSE(resp.Body, func(payload string) (bool, error) {
		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return false, providerError("parsing stream event: %v", err)
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" {
				if err := fn(event.Delta.Text); err != nil {
					return false, fmt.Errorf("delta callback: %w", err)
				}
			}
		case "error":
			return false, providerError("stream error: %s", event.Error.Message)
		case "message_stop":
			return true, nil
		}
		return false, nil
	})
}
