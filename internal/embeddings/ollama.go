package embeddings

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var _ Embedder = (*OllamaClient)(nil)

// OllamaClient talks to Ollama's /api/embed endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates a new Ollama embedding client
func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// embedRequest is the request format for Ollama's /api/embed endpoint
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the response format from Ollama's /api/embed endpoint
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text string
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	var resp embedResponse
	if err := postJSON(ctx, c.client, "ollama", c.baseURL+"/api/embed", embedRequest{Model: c.model, Input: []string{text}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("no embeddings returned")
	}
	return resp.Embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple text strings in a single request
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts cannot be empty")
	}

	var resp embedResponse
	if err := postJSON(ctx, c.client, "ollama", c.baseURL+"/api/embed", embedRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, errors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// Health checks if the Ollama service is available and the model is pulled
func (c *OllamaClient) Health(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := getJSON(ctx, c.client, "ollama", c.baseURL+"/api/tags", &tags); err != nil {
		return err
	}

	wanted := stripModelTag(c.model)
	for _, m := range tags.Models {
		if stripModelTag(m.Name) == wanted {
			return nil
		}
	}
	return errors.Errorf("model %s not found (run: ollama pull %s)", c.model, c.model)
}

// stripModelTag removes the tag suffix from a model name (e.g., "model:latest" -> "model")
func stripModelTag(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
