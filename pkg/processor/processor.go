// Package processor prepares corpus documents for the similarity index by
// cleaning their text and splitting it into overlapping chunks.
package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/assess/internal/models"
)

type ProcessorConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	MinChunkLength  int
	Lowercase       bool
	RemoveStopwords bool
	CustomStopwords []string
}

type Processor struct {
	config    ProcessorConfig
	stopwords map[string]bool
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 100
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", config.ChunkOverlap, config.ChunkSize)
	}

	stopwords := make(map[string]bool)
	if config.RemoveStopwords {
		for _, w := range defaultStopwords {
			stopwords[w] = true
		}
		for _, w := range config.CustomStopwords {
			stopwords[strings.ToLower(w)] = true
		}
	}

	return &Processor{config: config, stopwords: stopwords}, nil
}

// Process chunks each document. Documents with no text after cleaning are
// dropped; a short document still yields a single chunk.
func (p *Processor) Process(docs []models.Document) ([]models.ProcessedDocument, error) {
	processed := make([]models.ProcessedDocument, 0, len(docs))

	for _, doc := range docs {
		clean := p.cleanText(doc.Content)
		if clean == "" {
			continue
		}

		chunks := p.splitIntoChunks(clean)
		if len(chunks) == 0 {
			chunks = []string{clean}
		}

		processed = append(processed, models.ProcessedDocument{
			Document: doc,
			Chunks:   chunks,
		})
	}

	return processed, nil
}

func (p *Processor) cleanText(text string) string {
	if p.config.Lowercase {
		text = strings.ToLower(text)
	}
	words := strings.Fields(text)
	if len(p.stopwords) > 0 {
		filtered := words[:0]
		for _, w := range words {
			if !p.stopwords[strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))] {
				filtered = append(filtered, w)
			}
		}
		words = filtered
	}
	return strings.Join(words, " ")
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitIntoSentences(text) {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > p.config.ChunkSize {
			chunk := strings.TrimSpace(current.String())
			if len(chunk) >= p.config.MinChunkLength {
				chunks = append(chunks, chunk)
			}

			tail := overlap(chunk, p.config.ChunkOverlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(" ")
			}
		}

		current.WriteString(sentence)
		current.WriteString(" ")
	}

	if chunk := strings.TrimSpace(current.String()); len(chunk) >= p.config.MinChunkLength {
		chunks = append(chunks, chunk)
	}

	return chunks
}

// overlap returns at most n trailing bytes of s, starting on a word boundary.
func overlap(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	tail := s[start:]
	if i := strings.IndexByte(tail, ' '); i >= 0 && start > 0 && s[start-1] != ' ' {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

func splitIntoSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Common English stopwords
var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for",
	"from", "has", "he", "in", "is", "it", "its", "of", "on",
	"that", "the", "to", "was", "were", "will", "with",
}
