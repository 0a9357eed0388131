// Package pipeline runs one document evaluation: retrieve context for the
// topic, generate content, ask the model to evaluate it against the source
// document, then extract and validate the structured feedback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/pkg/evaluation"
	"github.com/xhad/assess/pkg/extract"
	"github.com/xhad/assess/pkg/llm"
	"github.com/xhad/assess/pkg/logging"
	"github.com/xhad/assess/pkg/metrics"
	"github.com/xhad/assess/pkg/prompt"
	"github.com/xhad/assess/pkg/retriever"
	"github.com/xhad/assess/pkg/telemetry"
)

type State string

const (
	StateIntake               State = "Intake"
	StateRetrieving           State = "Retrieving"
	StateComposing            State = "Composing"
	StateGeneratingContent    State = "Generating(content)"
	StateGeneratingEvaluation State = "Generating(evaluation)"
	StateExtracting           State = "Extracting"
	StateValidating           State = "Validating"
	StateDone                 State = "Done"
	StateFailed               State = "Failed"
)

type ErrorKind string

const (
	KindEmptyDocument      ErrorKind = "empty_document"
	KindGeneration         ErrorKind = "generation"
	KindExtractionNotFound ErrorKind = "extraction_not_found"
	KindValidation         ErrorKind = "validation"
)

var ErrEmptyDocument = errors.New("document text is empty")

// Error is the single failure type of a run. Stage is the state the run was
// in when it failed.
type Error struct {
	Stage State
	Kind  ErrorKind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline failed at %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retriever supplies ranked context for a topic. It never fails; problems
// come back as a degraded result.
type Retriever interface {
	Retrieve(ctx context.Context, topic string, topK int) retriever.Result
}

// Generator turns a prompt into text. Failures are *llm.GenerationError.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Observer is notified on every state transition.
type Observer func(state State)

type Config struct {
	TopK int
}

type Request struct {
	DocumentText string
	Topic        string
}

type Pipeline struct {
	config    Config
	retriever Retriever
	generator Generator
	composer  *prompt.Composer
	schema    evaluation.Schema
	logger    *slog.Logger
	metrics   *metrics.Metrics
	observer  Observer
	tracer    trace.Tracer
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(p *Pipeline) { p.observer = observer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSchema replaces the evaluation schema. Build it with evaluation.Extend
// so the record fields keep their domains.
func WithSchema(schema evaluation.Schema) Option {
	return func(p *Pipeline) { p.schema = schema }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func WithComposer(composer *prompt.Composer) Option {
	return func(p *Pipeline) {
		if composer != nil {
			p.composer = composer
		}
	}
}

func New(config Config, r Retriever, g Generator, opts ...Option) *Pipeline {
	if config.TopK <= 0 {
		config.TopK = retriever.DefaultTopK
	}
	p := &Pipeline{
		config:    config,
		retriever: r,
		generator: g,
		composer:  prompt.NewComposer(prompt.Config{}),
		schema:    evaluation.DefaultSchema(),
		logger:    slog.Default(),
		tracer:    telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.WithComponent(p.logger, "pipeline")
	return p
}

// run carries the per-invocation state so a Pipeline can serve concurrent calls.
// Each stage between enter and leave has its own span; stageCtx carries it.
type run struct {
	p         *Pipeline
	ctx       context.Context
	observers []Observer
	state     State
	start     time.Time
	stageCtx  context.Context
	span      trace.Span
}

func (r *run) notify(state State) {
	for _, observe := range r.observers {
		observe(state)
	}
}

func (r *run) enter(state State) {
	r.state = state
	r.start = time.Now()
	r.stageCtx, r.span = r.p.tracer.Start(r.ctx, "pipeline."+string(state))
	r.notify(state)
}

func (r *run) leave(err error) {
	telemetry.End(r.span, err)
	r.p.metrics.ObserveStage(string(r.state), time.Since(r.start))
}

func (r *run) fail(kind ErrorKind, err error) (*models.PipelineResult, error) {
	r.leave(err)
	stage := r.state
	r.p.metrics.RunFinished("failure", string(stage))
	r.p.logger.Error("pipeline failed", "stage", stage, "kind", kind, "error", err)
	r.notify(StateFailed)
	return nil, &Error{Stage: stage, Kind: kind, Err: err}
}

// Run executes one evaluation. Stages run strictly in order and nothing is
// retried. Retrieval problems only set RetrievalDegraded on the result.
func (p *Pipeline) Run(ctx context.Context, req Request) (*models.PipelineResult, error) {
	return p.RunObserved(ctx, req, nil)
}

// RunObserved is Run with an extra observer for this invocation only. It is
// called after the one configured with WithObserver.
func (p *Pipeline) RunObserved(ctx context.Context, req Request, observer Observer) (*models.PipelineResult, error) {
	ctx, root := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("topic", req.Topic)))
	var runErr error
	defer func() { telemetry.End(root, runErr) }()

	r := &run{p: p, ctx: ctx}
	for _, o := range []Observer{p.observer, observer} {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
	result, err := r.execute(req)
	runErr = err
	return result, err
}

func (r *run) execute(req Request) (*models.PipelineResult, error) {
	p := r.p

	r.enter(StateIntake)
	if strings.TrimSpace(req.DocumentText) == "" {
		return r.fail(KindEmptyDocument, ErrEmptyDocument)
	}
	r.leave(nil)

	r.enter(StateRetrieving)
	retrieved := p.retriever.Retrieve(r.stageCtx, req.Topic, p.config.TopK)
	r.span.SetAttributes(
		attribute.Int("snippets", len(retrieved.Snippets)),
		attribute.Bool("degraded", retrieved.Degraded),
	)
	if retrieved.Degraded {
		p.metrics.RetrievalDegraded()
	}
	r.leave(retrieved.Reason)

	r.enter(StateComposing)
	generationPrompt := p.composer.Generation(req.Topic, retrieved.Snippets)
	r.leave(nil)

	r.enter(StateGeneratingContent)
	generated, err := p.generator.Generate(r.stageCtx, generationPrompt)
	if err != nil {
		return r.fail(KindGeneration, err)
	}
	r.leave(nil)

	r.enter(StateGeneratingEvaluation)
	evaluationPrompt := p.composer.Evaluation(req.DocumentText, generated, p.schema.Fields())
	reply, err := p.generator.Generate(r.stageCtx, evaluationPrompt)
	if err != nil {
		return r.fail(KindGeneration, err)
	}
	r.leave(nil)

	r.enter(StateExtracting)
	block, err := extract.StructuredBlock(reply)
	if err != nil {
		return r.fail(KindExtractionNotFound, err)
	}
	r.leave(nil)

	r.enter(StateValidating)
	record, err := evaluation.ParseAndValidate(block, p.schema)
	if err != nil {
		return r.fail(KindValidation, err)
	}
	r.leave(nil)

	r.state = StateDone
	r.notify(StateDone)
	p.metrics.RunFinished("success", string(StateDone))
	p.logger.Info("pipeline complete",
		"topic", req.Topic,
		"snippets", len(retrieved.Snippets),
		"retrieval_degraded", retrieved.Degraded,
		"relevance", record.Relevance,
		"evaluation_score", record.EvaluationScore)

	snippets := retrieved.Snippets
	if snippets == nil {
		snippets = []models.Snippet{}
	}
	return &models.PipelineResult{
		DocumentText:      req.DocumentText,
		Topic:             req.Topic,
		GeneratedText:     generated,
		Context:           snippets,
		RetrievalDegraded: retrieved.Degraded,
		Evaluation:        record,
	}, nil
}

// IsGenerationFailure reports whether err is a pipeline failure caused by the
// generative capability, and returns the underlying reason.
func IsGenerationFailure(err error) (llm.Reason, bool) {
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindGeneration {
		return "", false
	}
	var ge *llm.GenerationError
	if errors.As(pe.Err, &ge) {
		return ge.Reason, true
	}
	return llm.ReasonCallFailed, true
}
