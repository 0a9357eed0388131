package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if !isHTTPURL(c.LLM.BaseURL) {
			add("llm.base_url", "invalid Ollama base URL")
		}
	case "googleai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "api_key is required for googleai")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider: %s", c.LLM.Provider))
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		add("llm.temperature", "temperature must be between 0 and 1")
	}

	if c.LLM.RateLimit < 0 {
		add("llm.rate_limit", "rate_limit cannot be negative")
	}

	// Validate Embedder config
	if c.Embedder.Provider != "ollama" && c.Embedder.Provider != "googleai" {
		add("embedder.provider", fmt.Sprintf("unknown provider: %s", c.Embedder.Provider))
	}
	if c.Embedder.BatchSize < 1 {
		add("embedder.batch_size", "batch_size must be positive")
	}

	// Validate Database config
	if c.Database.URL != "" {
		u, err := url.Parse(c.Database.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url", "invalid database URL")
		}
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Validate Retrieval config
	if c.Retrieval.TopK < 1 {
		add("retrieval.top_k", "top_k must be positive")
	}

	// Validate Fetcher config
	if c.Fetcher.RateLimit <= 0 {
		add("fetcher.rate_limit", "rate_limit must be positive")
	}
	if c.Fetcher.MaxBytes < 1 {
		add("fetcher.max_bytes", "max_bytes must be positive")
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Validate Server config
	if c.Server.Addr == "" {
		add("server.addr", "addr is required")
	}
	if c.Server.MaxConcurrent < 1 {
		add("server.max_concurrent", "max_concurrent must be positive")
	}
	if c.Server.AllowedOrigin != "*" && !isHTTPURL(c.Server.AllowedOrigin) {
		add("server.allowed_origin", "allowed_origin must be * or an http(s) origin")
	}

	// Validate Logging config
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", fmt.Sprintf("unknown level: %s", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		add("logging.format", "format must be json or text")
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
