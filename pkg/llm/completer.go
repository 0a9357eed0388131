package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/assess/internal/models"
)

// ModelCompleter adapts a langchaingo model to the Completer and
// ImageCompleter capabilities.
type ModelCompleter struct {
	model   llms.Model
	options []llms.CallOption
}

// NewWithConfig creates a completer backed by the configured provider.
func NewWithConfig(ctx context.Context, config ChatConfig) (*ModelCompleter, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	model, err := newModel(ctx, config.Provider, config.Model, "", config.BaseURL, config.APIKey)
	if err != nil {
		return nil, err
	}

	return NewModelCompleter(model,
		llms.WithTemperature(config.Temperature),
		llms.WithMaxTokens(config.MaxTokens),
	), nil
}

func NewModelCompleter(model llms.Model, options ...llms.CallOption) *ModelCompleter {
	return &ModelCompleter{model: model, options: options}
}

// Complete sends prompt as a single human message. A response without
// choices is reported as a nil completion.
func (mc *ModelCompleter) Complete(ctx context.Context, prompt string) (*models.Completion, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	return mc.generate(ctx, content)
}

// CompleteImage sends the image followed by the prompt in one human message.
func (mc *ModelCompleter) CompleteImage(ctx context.Context, mimeType string, image []byte, prompt string) (*models.Completion, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, image),
				llms.TextPart(prompt),
			},
		},
	}
	return mc.generate(ctx, content)
}

func (mc *ModelCompleter) generate(ctx context.Context, content []llms.MessageContent) (*models.Completion, error) {
	resp, err := mc.model.GenerateContent(ctx, content, mc.options...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, nil
	}
	return &models.Completion{Text: resp.Choices[0].Content}, nil
}
