package augment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// NewEmbedder picks an embedding provider from the configured keys. Voyage
// is preferred when both keys are set.
func NewEmbedder(voyageKey, openaiKey, model string) (Embedder, error) {
	if voyageKey != "" {
		return NewVoyageEmbedder(voyageKey, model), nil
	}
	if openaiKey != "" {
		return NewOpenAIEmbedder(openaiKey, model), nil
	}
	return nil, fmt.Errorf("no embedding provider key configured")
}

// VoyageEmbedder uses the Voyage AI embeddings endpoint.
type VoyageEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewVoyageEmbedder creates a Voyage embedder.
// Model defaults to "voyage-3-lite" if empty.
func NewVoyageEmbedder(apiKey, model string) *VoyageEmbedder {
	if model == "" {
		model = "voyage-3-lite"
	}
	return &VoyageEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.voyageai.com/v1",
		client:  http.DefaultClient,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (e *VoyageEmbedder) WithBaseURL(u string) *VoyageEmbedder {
	e.baseURL = u
	return e
}

func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

func (e *VoyageEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	respBody, err := postEmbedding(ctx, e.client, e.baseURL+"/embeddings", "Bearer "+e.apiKey, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing voyage response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("voyage returned %d embeddings for %d inputs", len(result.Data), len(texts))
	}

	embs := make([][]float32, len(texts))
	for _, d := range result.Data {
		embs[d.Index] = d.Embedding
	}
	return embs, nil
}

func (e *VoyageEmbedder) Dimensions() int {
	return 1024
}

// OpenAIEmbedder uses the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIEmbedder creates an OpenAI embedder.
// Model defaults to "text-embedding-3-small" if empty.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		client:  http.DefaultClient,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (e *OpenAIEmbedder) WithBaseURL(u string) *OpenAIEmbedder {
	e.baseURL = u
	return e
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	respBody, err := postEmbedding(ctx, e.client, e.baseURL+"/embeddings", "Bearer "+e.apiKey, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing openai response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai embeddings error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(result.Data), len(texts))
	}

	embs := make([][]float32, len(texts))
	for _, d := range result.Data {
		embs[d.Index] = d.Embedding
	}
	return embs, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	if e.model == "text-embedding-3-large" {
		return 3072
	}
	return 1536
}

func postEmbedding(ctx context.Context, client *http.Client, url, auth string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
