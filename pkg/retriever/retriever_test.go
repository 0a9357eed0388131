package retriever_test

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/pkg/retriever"
	"github.com/xhad/assess/pkg/store"
)

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct{ dim int }

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, h.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(w))
		v[f.Sum32()%uint32(h.dim)]++
	}
	return v, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

type failingIndex struct{}

func (failingIndex) Query(context.Context, []float32, int) ([]models.ScoredContent, error) {
	return nil, errors.New("connection refused")
}

type staticIndex struct{ rows []models.ScoredContent }

func (s staticIndex) Query(_ context.Context, _ []float32, _ int) ([]models.ScoredContent, error) {
	return s.rows, nil
}

type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCorpus(t *testing.T, emb hashEmbedder, contents ...string) *store.MemoryIndex {
	t.Helper()
	idx := store.NewMemoryIndex()
	for i, c := range contents {
		v, err := emb.Embed(context.Background(), c)
		require.NoError(t, err)
		require.NoError(t, idx.Add(string(rune('a'+i)), c, v))
	}
	return idx
}

func TestRetrieveReturnsIdenticalSnippetFirst(t *testing.T) {
	emb := hashEmbedder{dim: 64}
	topics := []string{"photosynthesis", "cell division in plants", "the water cycle"}

	for _, topic := range topics {
		t.Run(topic, func(t *testing.T) {
			idx := newCorpus(t, emb, "volcanoes erupt lava", topic, "stock markets fluctuate")
			r := retriever.New(emb, idx, retriever.Config{}, quietLogger())

			res := r.Retrieve(context.Background(), topic, 3)
			require.False(t, res.Degraded)
			require.NotEmpty(t, res.Snippets)
			assert.Equal(t, topic, res.Snippets[0].Content)
			assert.Equal(t, 1, res.Snippets[0].Rank)
		})
	}
}

func TestRetrieveDefaultsTopK(t *testing.T) {
	emb := hashEmbedder{dim: 16}
	idx := newCorpus(t, emb, "one", "two", "three", "four", "five")
	r := retriever.New(emb, idx, retriever.Config{}, quietLogger())

	res := r.Retrieve(context.Background(), "one", 0)
	assert.Len(t, res.Snippets, retriever.DefaultTopK)
}

func TestRetrieveOrdersAndBreaksTiesStably(t *testing.T) {
	idx := staticIndex{rows: []models.ScoredContent{
		{Content: "low", Score: 0.1},
		{Content: "tie-first", Score: 0.5},
		{Content: "high", Score: 0.9},
		{Content: "tie-second", Score: 0.5},
	}}
	r := retriever.New(hashEmbedder{dim: 8}, idx, retriever.Config{}, quietLogger())

	res := r.Retrieve(context.Background(), "anything", 3)
	require.Len(t, res.Snippets, 3)
	assert.Equal(t, []models.Snippet{
		{Content: "high", Rank: 1, Score: 0.9},
		{Content: "tie-first", Rank: 2, Score: 0.5},
		{Content: "tie-second", Rank: 3, Score: 0.5},
	}, res.Snippets)
}

func TestRetrieveNeverFails(t *testing.T) {
	emb := hashEmbedder{dim: 8}

	tests := []struct {
		name   string
		r      *retriever.Retriever
		topic  string
		reason error
	}{
		{"failing embedder", retriever.New(failingEmbedder{}, store.NewMemoryIndex(), retriever.Config{}, quietLogger()), "topic", nil},
		{"failing index", retriever.New(emb, failingIndex{}, retriever.Config{}, quietLogger()), "topic", nil},
		{"empty topic", retriever.New(emb, store.NewMemoryIndex(), retriever.Config{}, quietLogger()), "  ", retriever.ErrEmptyTopic},
		{"timeout", retriever.New(blockingEmbedder{}, store.NewMemoryIndex(), retriever.Config{Timeout: 10 * time.Millisecond}, quietLogger()), "topic", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res retriever.Result
			assert.NotPanics(t, func() {
				res = tt.r.Retrieve(context.Background(), tt.topic, 3)
			})
			assert.True(t, res.Degraded)
			assert.Empty(t, res.Snippets)
			assert.Error(t, res.Reason)
			if tt.reason != nil {
				assert.ErrorIs(t, res.Reason, tt.reason)
			}
		})
	}
}

func TestRetrieveEmptyCorpusIsNotDegraded(t *testing.T) {
	r := retriever.New(hashEmbedder{dim: 8}, store.NewMemoryIndex(), retriever.Config{}, quietLogger())

	res := r.Retrieve(context.Background(), "photosynthesis", 3)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.Snippets)
	assert.NoError(t, res.Reason)
}
