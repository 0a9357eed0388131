package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"

	defaultOllamaURL       = "http://localhost:11434"
	defaultOllamaModel     = "mistral"
	defaultGeminiModel     = "gemini-2.0-flash"
	defaultOllamaEmbedding = "nomic-embed-text:latest"
	defaultGeminiEmbedding = "text-embedding-004"
)

// ChatConfig selects and configures the generative model.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string // Ollama server URL
	APIKey      string // Google AI key
	Temperature float64
	MaxTokens   int
}

func (c *ChatConfig) applyDefaults() error {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderGoogleAI:
			c.Model = defaultGeminiModel
		default:
			c.Model = defaultOllamaModel
		}
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	} else if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultOllamaURL
	}
	return nil
}

// newModel builds a langchaingo model for provider. embeddingModel is only
// used by providers that serve both chat and embeddings from one client.
func newModel(ctx context.Context, provider, model, embeddingModel, baseURL, apiKey string) (llms.Model, error) {
	switch provider {
	case ProviderOllama, "":
		m, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		return m, nil
	case ProviderGoogleAI:
		if apiKey == "" {
			return nil, fmt.Errorf("google ai api key is required")
		}
		opts := []googleai.Option{
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(model),
		}
		if embeddingModel != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(embeddingModel))
		}
		m, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize google ai: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
