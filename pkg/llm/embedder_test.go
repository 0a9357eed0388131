package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/assess/pkg/llm"
)

type stubEmbeddingClient struct {
	err error
}

func (s stubEmbeddingClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestEmbedderEmbed(t *testing.T) {
	emb, err := llm.NewEmbedder(stubEmbeddingClient{}, llm.EmbedderConfig{})
	require.NoError(t, err)

	v, err := emb.Embed(context.Background(), "photosynthesis")
	require.NoError(t, err)
	assert.Equal(t, []float32{14, 1}, v)

	again, err := emb.Embed(context.Background(), "photosynthesis")
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestEmbedderEmbedChunks(t *testing.T) {
	emb, err := llm.NewEmbedder(stubEmbeddingClient{}, llm.EmbedderConfig{BatchSize: 2})
	require.NoError(t, err)

	vs, err := emb.EmbedChunks(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, []float32{3, 1}, vs[2])
}

func TestEmbedderError(t *testing.T) {
	emb, err := llm.NewEmbedder(stubEmbeddingClient{err: errors.New("down")}, llm.EmbedderConfig{})
	require.NoError(t, err)

	_, err = emb.Embed(context.Background(), "x")
	assert.Error(t, err)
}
