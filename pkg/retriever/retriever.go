// Package retriever finds stored content similar to a topic. Retrieval only
// enriches the generation prompt, so failures degrade to empty context.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/internal/types"
	"github.com/xhad/assess/pkg/logging"
)

const DefaultTopK = 3

var (
	ErrEmptyTopic  = errors.New("topic is empty")
	ErrEmptyVector = errors.New("embedding is empty")
)

type Config struct {
	TopK    int
	Timeout time.Duration // zero means the caller's context governs
}

// Result is either a (possibly empty) ranked list of snippets or a degraded
// outcome with the cause in Reason. It is never an error.
type Result struct {
	Snippets []models.Snippet
	Degraded bool
	Reason   error
}

type Retriever struct {
	config   Config
	embedder types.Embedder
	index    types.SimilarityIndex
	logger   *slog.Logger
}

func New(embedder types.Embedder, index types.SimilarityIndex, config Config, logger *slog.Logger) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
		logger:   logging.WithComponent(logger, "retriever"),
	}
}

// Retrieve returns up to topK snippets ordered by descending similarity. Ties
// keep the order the index returned them in. topK <= 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, topic string, topK int) Result {
	if topK <= 0 {
		topK = r.config.TopK
	}
	if strings.TrimSpace(topic) == "" {
		return r.degrade(ErrEmptyTopic)
	}
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	vector, err := r.embedder.Embed(ctx, topic)
	if err != nil {
		return r.degrade(fmt.Errorf("embed topic: %w", err))
	}
	if len(vector) == 0 {
		return r.degrade(ErrEmptyVector)
	}

	rows, err := r.index.Query(ctx, vector, topK)
	if err != nil {
		return r.degrade(fmt.Errorf("query index: %w", err))
	}

	return Result{Snippets: rank(rows, topK)}
}

func (r *Retriever) degrade(reason error) Result {
	r.logger.Warn("retrieval degraded, continuing without context", "reason", reason)
	return Result{Degraded: true, Reason: reason}
}

func rank(rows []models.ScoredContent, topK int) []models.Snippet {
	ordered := make([]models.ScoredContent, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})
	if len(ordered) > topK {
		ordered = ordered[:topK]
	}

	snippets := make([]models.Snippet, 0, len(ordered))
	for i, row := range ordered {
		snippets = append(snippets, models.Snippet{
			Content: row.Content,
			Rank:    i + 1,
			Score:   row.Score,
		})
	}
	return snippets
}
