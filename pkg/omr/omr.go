// Package omr reads marked answers off an answer-sheet image with a
// multimodal model.
package omr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/internal/types"
	"github.com/xhad/assess/pkg/extract"
	"github.com/xhad/assess/pkg/llm"
	"github.com/xhad/assess/pkg/logging"
)

const DefaultPrompt = "Perform OMR and provide answers in JSON format (question_num: answer)."

var ErrNoAnswers = errors.New("reply contains no answers")

// ImageSource downloads an answer-sheet image and reports its MIME type.
type ImageSource interface {
	FetchImage(ctx context.Context, link string) (string, []byte, error)
}

type Reader struct {
	completer types.ImageCompleter
	images    ImageSource
	prompt    string
	logger    *slog.Logger
}

func NewReader(completer types.ImageCompleter, images ImageSource, logger *slog.Logger) *Reader {
	return &Reader{
		completer: completer,
		images:    images,
		prompt:    DefaultPrompt,
		logger:    logging.WithComponent(logger, "omr"),
	}
}

// Read downloads the sheet at link and returns its answers ordered by question.
func (r *Reader) Read(ctx context.Context, link string) ([]models.Answer, error) {
	mimeType, image, err := r.images.FetchImage(ctx, link)
	if err != nil {
		return nil, err
	}
	return r.ReadImage(ctx, mimeType, image)
}

func (r *Reader) ReadImage(ctx context.Context, mimeType string, image []byte) ([]models.Answer, error) {
	completion, err := r.completer.CompleteImage(ctx, mimeType, image, r.prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &llm.GenerationError{Reason: llm.ReasonCancelled, Err: err}
		}
		return nil, &llm.GenerationError{Reason: llm.ReasonCallFailed, Err: err}
	}
	if completion == nil {
		return nil, &llm.GenerationError{Reason: llm.ReasonNoResponse}
	}

	answers, err := ParseAnswers(completion.Text)
	if err != nil {
		return nil, err
	}
	r.logger.Info("answer sheet read", "answers", len(answers), "bytes", len(image))
	return answers, nil
}

// ParseAnswers maps a reply of the form {"1": "A", "2": "C"} to answers
// ordered by question number. Keys without a number sort after numbered ones.
func ParseAnswers(reply string) ([]models.Answer, error) {
	block, err := extract.StructuredBlock(reply)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoAnswers
	}

	answers := make([]models.Answer, 0, len(raw))
	for question, value := range raw {
		answers = append(answers, models.Answer{
			Question: question,
			Answer:   answerText(value),
		})
	}

	sort.Slice(answers, func(i, j int) bool {
		ni, oki := questionNumber(answers[i].Question)
		nj, okj := questionNumber(answers[j].Question)
		switch {
		case oki && okj && ni != nj:
			return ni < nj
		case oki != okj:
			return oki
		default:
			return answers[i].Question < answers[j].Question
		}
	})
	return answers, nil
}

func answerText(v interface{}) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(a)
	case float64:
		return strconv.FormatFloat(a, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(a))
		for _, item := range a {
			parts = append(parts, answerText(item))
		}
		return strings.Join(parts, ",")
	default:
		b, _ := json.Marshal(a)
		return string(b)
	}
}

// questionNumber returns the first run of digits in key.
func questionNumber(key string) (int, bool) {
	start := strings.IndexFunc(key, unicode.IsDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(key) && key[end] >= '0' && key[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(key[start:end])
	return n, err == nil
}
