package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIClient implements Client using the OpenAI Chat Completions API.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a client for the OpenAI API.
// Model defaults to "gpt-4o" if empty.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultOpenAIBaseURL,
		client:  http.DefaultClient,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *OpenAIClient) WithBaseURL(u string) *OpenAIClient {
	c.baseURL = u
	return c
}

func (c *OpenAIClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *OpenAIClient) payload(system, user string, stream bool) map[string]any {
	body := map[string]any{
		"model":      c.model,
		"max_tokens": 4096,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := postJSON(ctx, c.client, c.baseURL+"/v1/chat/completions", c.headers(), c.payload(system, user, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", providerError("reading response: %v", err)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", providerError("parsing response: %v", err)
	}

	if len(result.Choices) == 0 {
		return "", providerError("no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, system, user string, fn func(delta string) error) error {
	resp, err := postJSON(ctx, c.client, c.baseURL+"/v1/chat/completions", c.headers(), c.payload(system, user, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readSSE(resp.Body, func(payload string) (bool, error) {
		if payload == "[DONE]" {
			return true, nil
		}
		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return false, providerError("parsing stream event: %v", err)
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := fn(choice.Delta.Content); err != nil {
				return false, fmt.Errorf("delta callback: %w", err)
			}
		}
		return false, nil
	})
}
