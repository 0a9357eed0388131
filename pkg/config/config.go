package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string        `yaml:"provider"`
		BaseURL     string        `yaml:"base_url"`
		Model       string        `yaml:"model"`
		APIKey      string        `yaml:"api_key"`
		MaxTokens   int           `yaml:"max_tokens"`
		Temperature float64       `yaml:"temperature"`
		RateLimit   float64       `yaml:"rate_limit"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"llm"`

	Embedder struct {
		Provider  string `yaml:"provider"`
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		APIKey    string `yaml:"api_key"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"embedder"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Retrieval struct {
		TopK    int           `yaml:"top_k"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"retrieval"`

	Fetcher struct {
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"`
		MaxBytes  int64         `yaml:"max_bytes"`
	} `yaml:"fetcher"`

	Processor struct {
		ChunkSize       int      `yaml:"chunk_size"`
		ChunkOverlap    int      `yaml:"chunk_overlap"`
		MinChunkLength  int      `yaml:"min_chunk_length"`
		Lowercase       bool     `yaml:"lowercase"`
		RemoveStopwords bool     `yaml:"remove_stopwords"`
		CustomStopwords []string `yaml:"custom_stopwords"`
	} `yaml:"processor"`

	Server struct {
		Addr           string        `yaml:"addr"`
		AllowedOrigin  string        `yaml:"allowed_origin"`
		MaxConcurrent  int           `yaml:"max_concurrent"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Telemetry struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"telemetry"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/assess/config.yaml"),
			"/etc/assess/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "googleai" {
			config.LLM.Model = "gemini-2.0-flash"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 2 * time.Minute
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = config.LLM.Provider
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.APIKey == "" {
		config.Embedder.APIKey = config.LLM.APIKey
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == "googleai" {
			config.Embedder.Model = "text-embedding-004"
		} else {
			config.Embedder.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "snippets"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}
	if config.Retrieval.Timeout == 0 {
		config.Retrieval.Timeout = 10 * time.Second
	}

	if config.Fetcher.Timeout == 0 {
		config.Fetcher.Timeout = 30 * time.Second
	}
	if config.Fetcher.RateLimit == 0 {
		config.Fetcher.RateLimit = 2.0
	}
	if config.Fetcher.MaxBytes == 0 {
		config.Fetcher.MaxBytes = 32 << 20
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}
	if config.Processor.MinChunkLength == 0 {
		config.Processor.MinChunkLength = 100
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":5000"
	}
	if config.Server.AllowedOrigin == "" {
		config.Server.AllowedOrigin = "http://localhost:5173"
	}
	if config.Server.MaxConcurrent == 0 {
		config.Server.MaxConcurrent = 4
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 5 * time.Minute
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}

	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = "assess"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if addr := os.Getenv("ASSESS_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if level := os.Getenv("ASSESS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
