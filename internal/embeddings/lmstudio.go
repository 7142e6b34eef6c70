package embeddings

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Ensure LMStudioClient implements Embedder interface at compile time
var _ Embedder = (*LMStudioClient)(nil)

// LMStudioClient represents an LMStudio embedding client using OpenAI-compatible API
type LMStudioClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLMStudioClient creates a new LMStudio embedding client
func NewLMStudioClient(baseURL, model string) *LMStudioClient {
	return &LMStudioClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

// openAIEmbedRequest is the request format for OpenAI-compatible /v1/embeddings endpoint
type openAIEmbedRequest struct {
	Input any    `json:"input"` // string or []string
	Model string `json:"model"`
}

// openAIEmbedResponse is the response format from OpenAI-compatible /v1/embeddings endpoint
type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed generates an embedding for a single text string
func (c *LMStudioClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	var resp openAIEmbedResponse
	if err := postJSON(ctx, c.client, "lmstudio", c.baseURL+"/v1/embeddings", openAIEmbedRequest{Input: text, Model: c.model}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

// EmbedBatch generates embeddings for multiple text strings in a single request
func (c *LMStudioClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts cannot be empty")
	}

	var resp openAIEmbedResponse
	if err := postJSON(ctx, c.client, "lmstudio", c.baseURL+"/v1/embeddings", openAIEmbedRequest{Input: texts, Model: c.model}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// Extract embeddings in order
	result := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, errors.Errorf("invalid embedding index: %d", d.Index)
		}
		result[d.Index] = d.Embedding
	}
	return result, nil
}

// Health checks if the LMStudio service is available with at least one model loaded
func (c *LMStudioClient) Health(ctx context.Context) error {
	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := getJSON(ctx, c.client, "lmstudio", c.baseURL+"/v1/models", &models); err != nil {
		return err
	}
	if len(models.Data) == 0 {
		return errors.New("no models loaded in lmstudio")
	}
	// LMStudio accepts any loaded model name, so a missing exact match is not an error.
	return nil
}
