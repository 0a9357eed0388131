package types

import (
	"context"

	"github.com/xhad/assess/internal/models"
)

// Core interfaces

// Embedder turns text into a fixed-length vector. It must be deterministic
// for identical input within a session.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SimilarityIndex returns stored content nearest to a vector, nearest first.
// Implementations must support concurrent queries.
type SimilarityIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]models.ScoredContent, error)
}

// Completer is the generative capability. A nil completion with a nil error
// means the capability produced no response at all.
type Completer interface {
	Complete(ctx context.Context, prompt string) (*models.Completion, error)
}

// ImageCompleter is a generative capability that accepts an image alongside the prompt.
type ImageCompleter interface {
	CompleteImage(ctx context.Context, mimeType string, image []byte, prompt string) (*models.Completion, error)
}

// TextProvider supplies already-extracted document text for a link.
type TextProvider interface {
	FetchText(ctx context.Context, link string) (string, error)
}

type Processor interface {
	Process(docs []models.Document) ([]models.ProcessedDocument, error)
}
