// Package embedder converts text to float32 vectors via any
// OpenAI-compatible embedding server (vLLM, Ollama, ONNX serving, OpenAI
// itself). The ingest pipeline only sees the Embedder interface, so the
// backend is a startup-time decision.
//
// Usage:
//
//	emb := embedder.New(embedder.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "multilingual-e5-large",
//	})
//	vecs, err := emb.EmbedBatch(ctx, segments)
package embedder

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, batching HTTP
	// calls as needed. The result is index-aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, or 0 before the first call
	// when auto-detecting.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server. Empty selects a
	// noop embedder producing zero vectors (useful offline and in tests).
	Endpoint string `yaml:"endpoint"`

	// Model is the model name sent in each request.
	Model string `yaml:"model"`

	// Dimension is the expected vector dimension. 0 auto-detects on the
	// first call.
	Dimension int `yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request.
	// Default: 32.
	BatchSize int `yaml:"batch_size"`

	// Timeout per HTTP request. Calls past the timeout fail; retry is the
	// caller's decision. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &noopEmbedder{dim: dim, model: cfg.Model}
	}
	return newClient(cfg)
}

// noopEmbedder returns zero vectors of a fixed dimension.
type noopEmbedder struct {
	dim   int
	model string
}

func (n *noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, n.dim), nil
}

func (n *noopEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.dim)
	}
	return out, nil
}

func (n *noopEmbedder) Dimension() int { return n.dim }
func (n *noopEmbedder) Model() string  { return n.model }
