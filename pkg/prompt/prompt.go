// Package prompt builds the generation and evaluation requests sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/pkg/evaluation"
)

const (
	DefaultGenerationTemplate = "Generate content on the topic: %s. Context: %s"
	DefaultEvaluationTemplate = "Extracted Content: %s, AI-Generated Content: %s. " +
		"Provide feedback in JSON format with fields: %s. " +
		"Reply with a single JSON object containing every field."
	DefaultContextSeparator = " "
)

type Config struct {
	// GenerationTemplate receives the topic and the joined context.
	GenerationTemplate string
	// EvaluationTemplate receives the source text, the generated text and the field list.
	EvaluationTemplate string
	ContextSeparator   string
}

// Composer renders prompts. It holds no state beyond its templates, so the
// same inputs always produce the same text.
type Composer struct {
	config Config
}

func NewComposer(config Config) *Composer {
	if config.GenerationTemplate == "" {
		config.GenerationTemplate = DefaultGenerationTemplate
	}
	if config.EvaluationTemplate == "" {
		config.EvaluationTemplate = DefaultEvaluationTemplate
	}
	if config.ContextSeparator == "" {
		config.ContextSeparator = DefaultContextSeparator
	}
	return &Composer{config: config}
}

// Generation builds the content-generation prompt from the topic and the
// retrieved snippets, in the order given.
func (c *Composer) Generation(topic string, snippets []models.Snippet) string {
	contents := make([]string, 0, len(snippets))
	for _, s := range snippets {
		contents = append(contents, s.Content)
	}
	return fmt.Sprintf(c.config.GenerationTemplate, topic, strings.Join(contents, c.config.ContextSeparator))
}

// Evaluation builds the evaluation prompt. Every field is listed with its domain.
func (c *Composer) Evaluation(sourceText, generatedText string, fields []evaluation.Field) string {
	return fmt.Sprintf(c.config.EvaluationTemplate, sourceText, generatedText, describeFields(fields))
}

func describeFields(fields []evaluation.Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Name, f.Domain()))
	}
	return strings.Join(parts, ", ")
}
