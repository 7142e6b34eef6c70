package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Embedder is the interface for embedding providers (Ollama, LMStudio, etc.)
type Embedder interface {
	// Embed generates an embedding for a single text string
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple text strings in a single request
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Health checks if the service is available and the model is loaded
	Health(ctx context.Context) error
}

// ProviderError is a non-200 answer from an embedding provider.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.Status, e.Body)
}

// IsModelMissing reports a provider 404, which no retry or smaller batch fixes.
func IsModelMissing(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status == http.StatusNotFound
}

// NewEmbedder creates a new embedding client based on the provider type
// Supported providers: "ollama", "lmstudio"
func NewEmbedder(provider, baseURL, model string) (Embedder, error) {
	if baseURL == "" {
		baseURL = DefaultURL(provider)
	}
	if model == "" {
		model = DefaultModel(provider)
	}
	switch provider {
	case "ollama":
		return NewOllamaClient(baseURL, model), nil
	case "lmstudio":
		return NewLMStudioClient(baseURL, model), nil
	default:
		return nil, errors.Errorf("unsupported embedding provider: %s (supported: ollama, lmstudio)", provider)
	}
}

// DefaultURL returns the default base URL for a given provider
func DefaultURL(provider string) string {
	switch provider {
	case "ollama":
		return "http://localhost:11434"
	case "lmstudio":
		return "http://localhost:1234"
	default:
		return ""
	}
}

// DefaultModel returns the default model for a provider. Both produce
// 768-dimensional vectors.
func DefaultModel(provider string) string {
	switch provider {
	case "ollama":
		return "nomic-embed-text"
	case "lmstudio":
		return "text-embedding-nomic-embed-text-v1.5"
	default:
		return ""
	}
}

// postJSON sends body to url and decodes a 200 answer into out.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ProviderError{Provider: provider, Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// getJSON fetches url and decodes a 200 answer into out.
func getJSON(ctx context.Context, hc *http.Client, provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s not available", provider)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: provider, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
