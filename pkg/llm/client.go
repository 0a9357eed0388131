package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/internal/types"
	"github.com/xhad/assess/pkg/logging"
	"golang.org/x/time/rate"
)

type Reason string

const (
	ReasonCallFailed Reason = "call_failed"
	ReasonTimeout    Reason = "timeout"
	ReasonCancelled  Reason = "cancelled"
	ReasonNoResponse Reason = "no_response"
)

// GenerationError reports a generative call that errored, timed out, was
// cancelled, or produced no response object.
type GenerationError struct {
	Reason Reason
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation %s", e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type ClientConfig struct {
	RateLimit float64       // calls per second, zero disables limiting
	Timeout   time.Duration // per call, zero means the caller's context governs
}

// Client makes single, unretried calls to a generative capability.
type Client struct {
	config    ClientConfig
	completer types.Completer
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func NewClient(completer types.Completer, config ClientConfig, logger *slog.Logger) *Client {
	c := &Client{
		config:    config,
		completer: completer,
		logger:    logging.WithComponent(logger, "generation"),
	}
	if config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return c
}

type reply struct {
	completion *models.Completion
	err        error
}

// Generate returns the model's text for prompt. Empty text is a valid answer.
// When ctx ends first the in-flight call is abandoned and Generate returns at once.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", contextError(ctx.Err())
			}
			return "", &GenerationError{Reason: ReasonTimeout, Err: err}
		}
	}

	start := time.Now()
	done := make(chan reply, 1)
	go func() {
		completion, err := c.completer.Complete(ctx, prompt)
		done <- reply{completion: completion, err: err}
	}()

	select {
	case <-ctx.Done():
		c.logger.Warn("generation abandoned", "error", ctx.Err(), "elapsed", time.Since(start))
		return "", contextError(ctx.Err())
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
				return "", contextError(r.err)
			}
			return "", &GenerationError{Reason: ReasonCallFailed, Err: r.err}
		}
		if r.completion == nil {
			return "", &GenerationError{Reason: ReasonNoResponse}
		}
		c.logger.Debug("generation complete", "chars", len(r.completion.Text), "elapsed", time.Since(start))
		return r.completion.Text, nil
	}
}

func contextError(err error) *GenerationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Reason: ReasonTimeout, Err: err}
	}
	return &GenerationError{Reason: ReasonCancelled, Err: err}
}
