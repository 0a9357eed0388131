package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
)

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL
	APIKey    string
	BatchSize int
}

// Embedder produces vectors for topics and corpus chunks.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
}

func NewEmbedderWithConfig(ctx context.Context, config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		switch config.Provider {
		case ProviderGoogleAI:
			config.Model = defaultGeminiEmbedding
		default:
			config.Model = defaultOllamaEmbedding
		}
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaURL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	model, err := newModel(ctx, config.Provider, config.Model, config.Model, config.BaseURL, config.APIKey)
	if err != nil {
		return nil, err
	}
	client, ok := model.(embeddings.EmbedderClient)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support embeddings", config.Provider)
	}

	return NewEmbedder(client, config)
}

// NewEmbedder wraps any langchaingo embedding client.
func NewEmbedder(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return &Embedder{config: config, embedder: emb}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v, nil
}

// EmbedChunks embeds corpus chunks in batches, one vector per chunk.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	vs, err := e.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vs) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vs), len(chunks))
	}
	return vs, nil
}
