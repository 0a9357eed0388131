package models

// Document is a piece of source material destined for the similarity index.
type Document struct {
	ID       string
	Source   string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

type ProcessedDocument struct {
	Document
	Chunks    []string
	Embedding [][]float32
}

// ScoredContent is one row returned by a similarity index, nearest first.
type ScoredContent struct {
	ID      string
	Content string
	Score   float64
}

// Snippet is retrieved context handed to the prompt composer.
// Rank is 1-based; rank 1 is the most similar snippet.
type Snippet struct {
	Content string  `json:"content"`
	Rank    int     `json:"similarity_rank"`
	Score   float64 `json:"score"`
}

// Completion is the answer of a generative capability. Empty Text is a valid answer.
type Completion struct {
	Text string
}
