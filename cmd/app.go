package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/internal/types"
	cfgPkg "github.com/xhad/assess/pkg/config"
	"github.com/xhad/assess/pkg/fetcher"
	"github.com/xhad/assess/pkg/llm"
	"github.com/xhad/assess/pkg/logging"
	"github.com/xhad/assess/pkg/metrics"
	"github.com/xhad/assess/pkg/omr"
	"github.com/xhad/assess/pkg/pipeline"
	"github.com/xhad/assess/pkg/retriever"
	"github.com/xhad/assess/pkg/store"
	"github.com/xhad/assess/pkg/telemetry"
)

// corpusIndex is a similarity index that can also be written to.
type corpusIndex interface {
	types.SimilarityIndex
	Store(ctx context.Context, docs []models.ProcessedDocument) error
}

// app holds the components built from one configuration.
type app struct {
	cfg     *cfgPkg.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	fetcher *fetcher.Fetcher

	embedder  *llm.Embedder
	completer *llm.ModelCompleter
	index     corpusIndex

	closers []func()
}

func newApp(ctx context.Context, cfg *cfgPkg.Config) (*app, error) {
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, os.Stderr)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Output:      os.Stderr,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		fetcher: fetcher.NewWithConfig(fetcher.FetcherConfig{
			Timeout:   cfg.Fetcher.Timeout,
			RateLimit: cfg.Fetcher.RateLimit,
			MaxBytes:  cfg.Fetcher.MaxBytes,
		}, logger),
	}
	a.closers = append(a.closers, func() { _ = shutdown(context.Background()) })
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) Completer(ctx context.Context) (*llm.ModelCompleter, error) {
	if a.completer != nil {
		return a.completer, nil
	}
	completer, err := llm.NewWithConfig(ctx, llm.ChatConfig{
		Provider:    a.cfg.LLM.Provider,
		Model:       a.cfg.LLM.Model,
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completer: %w", err)
	}
	a.completer = completer
	return completer, nil
}

func (a *app) Embedder(ctx context.Context) (*llm.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	embedder, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{
		Provider:  a.cfg.Embedder.Provider,
		Model:     a.cfg.Embedder.Model,
		BaseURL:   a.cfg.Embedder.BaseURL,
		APIKey:    a.cfg.Embedder.APIKey,
		BatchSize: a.cfg.Embedder.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.embedder = embedder
	return embedder, nil
}

// Index opens the pgvector index, or an in-process index when no database
// is configured and requireDB is false.
func (a *app) Index(ctx context.Context, requireDB bool) (corpusIndex, error) {
	if a.index != nil {
		return a.index, nil
	}
	if a.cfg.Database.URL == "" {
		if requireDB {
			return nil, errors.New("database.url is required (set DATABASE_URL or -db-url)")
		}
		a.logger.Warn("no database configured, using in-memory index")
		a.index = store.NewMemoryIndex()
		return a.index, nil
	}

	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: a.cfg.Database.URL,
		TableName:  a.cfg.Database.TableName,
		VectorDim:  a.cfg.Database.VectorDim,
		BatchSize:  a.cfg.Database.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.closers = append(a.closers, vs.Close)
	a.index = vs
	return vs, nil
}

func (a *app) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	embedder, err := a.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	index, err := a.Index(ctx, false)
	if err != nil {
		return nil, err
	}
	completer, err := a.Completer(ctx)
	if err != nil {
		return nil, err
	}

	r := retriever.New(embedder, index, retriever.Config{
		TopK:    a.cfg.Retrieval.TopK,
		Timeout: a.cfg.Retrieval.Timeout,
	}, a.logger)
	client := llm.NewClient(completer, llm.ClientConfig{
		RateLimit: a.cfg.LLM.RateLimit,
		Timeout:   a.cfg.LLM.Timeout,
	}, a.logger)

	return pipeline.New(pipeline.Config{TopK: a.cfg.Retrieval.TopK}, r, client,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics),
	), nil
}

func (a *app) OMR(ctx context.Context) (*omr.Reader, error) {
	completer, err := a.Completer(ctx)
	if err != nil {
		return nil, err
	}
	return omr.NewReader(completer, a.fetcher, a.logger), nil
}
