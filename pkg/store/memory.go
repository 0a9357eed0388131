package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/assess/internal/models"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type memoryEntry struct {
	id      string
	content string
	vector  []float32
}

// MemoryIndex is a brute-force cosine similarity index kept in process.
// Entries are ranked by similarity, ties by insertion order.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   []memoryEntry
}

func NewMemoryIndex() *MemoryIndex { return &MemoryIndex{} }

// Add appends one entry. The first entry fixes the index dimension.
func (m *MemoryIndex) Add(id, content string, vector []float32) error {
	if len(vector) == 0 {
		return ErrDimensionMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		m.dimension = len(vector)
	}
	if len(vector) != m.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), m.dimension)
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	m.entries = append(m.entries, memoryEntry{id: id, content: content, vector: v})
	return nil
}

// Store adds every chunk of docs with its precomputed embedding.
func (m *MemoryIndex) Store(_ context.Context, docs []models.ProcessedDocument) error {
	for _, doc := range docs {
		if len(doc.Chunks) != len(doc.Embedding) {
			return fmt.Errorf("document %s: %d chunks but %d embeddings", doc.ID, len(doc.Chunks), len(doc.Embedding))
		}
		for i, chunk := range doc.Chunks {
			if err := m.Add(chunkID(doc.ID, i), chunk, doc.Embedding[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int) ([]models.ScoredContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), m.dimension)
	}

	results := make([]models.ScoredContent, len(m.entries))
	for i, e := range m.entries {
		results[i] = models.ScoredContent{ID: e.id, Content: e.content, Score: cosine(vector, e.vector)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
