package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestOllamaEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path=%s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		resp := embedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "nomic-embed-text")
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[1][1] != 0.2 {
		t.Fatalf("vecs=%v", vecs)
	}
}

func TestOllamaModelMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "nope").Embed(context.Background(), "x")
	if !IsModelMissing(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestOllamaHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, "nomic-embed-text").Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if err := NewOllamaClient(srv.URL, "other").Health(context.Background()); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestLMStudioEmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	vecs, err := NewLMStudioClient(srv.URL, "m").EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vecs=%v", vecs)
	}
}

func TestNewEmbedder(t *testing.T) {
	if _, err := NewEmbedder("gemini", "", ""); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
	e, err := NewEmbedder("ollama", "", "")
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if c := e.(*OllamaClient); c.baseURL != "http://localhost:11434" || c.model != "nomic-embed-text" {
		t.Fatalf("client=%+v", c)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	in := []float32{1.5, -2, 0}
	out := Deserialize(Serialize(in))
	if len(out) != 3 || out[0] != 1.5 || out[1] != -2 {
		t.Fatalf("out=%v", out)
	}
	if Deserialize([]byte{1, 2, 3}) != nil {
		t.Fatalf("odd length must decode to nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); s < 0.999 {
		t.Fatalf("s=%v", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Fatalf("s=%v", s)
	}
	if s := CosineSimilarity([]float32{1}, []float32{1, 2}); s != 0 {
		t.Fatalf("s=%v", s)
	}
}

func TestRedisCacheUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewRedisCache(client, "", time.Hour)
	if _, err := c.Lookup(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
	if got, err := c.Lookup(context.Background(), nil); err != nil || len(got) != 0 {
		t.Fatalf("empty lookup: got=%v err=%v", got, err)
	}
}
