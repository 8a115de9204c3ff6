// ABOUTME: Engine runs director, workers, and summarizer for one message
// ABOUTME: Every stage is traced and no stage failure leaves the reply empty

package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/llm"
	"github.com/2389/clawswarm/internal/metrics"
	"github.com/2389/clawswarm/internal/telemetry"
)

// Config wires the engine's collaborators.
type Config struct {
	LLM       llm.Completer
	Models    config.ModelsConfig
	Search    Searcher
	Tokens    TokenLauncher
	Developer DeveloperRunner
	// Handlers replaces individual default handlers.
	Handlers map[WorkerName]Handler
	Logger   *slog.Logger
}

// Engine turns one inbound message into one reply.
type Engine struct {
	director   *Director
	summarizer *Summarizer
	handlers   map[WorkerName]Handler
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Input is one message to answer.
type Input struct {
	Text          string
	MemoryContext string
}

// Result records every stage of one pass.
type Result struct {
	Reply    string
	Spec     SwarmSpec
	Results  []WorkerResult
	FellBack bool // director used the fallback plan
	// Summarized is false when the reply came from a fallback path.
	Summarized bool
}

// NewEngine builds an engine. Handlers in cfg override the defaults.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestration")

	handlers := defaultHandlers(workerDeps{
		llm:       cfg.LLM,
		models:    cfg.Models.For,
		search:    cfg.Search,
		tokens:    cfg.Tokens,
		developer: cfg.Developer,
	})
	for name, h := range cfg.Handlers {
		handlers[name] = h
	}

	return &Engine{
		director:   NewDirector(cfg.LLM, cfg.Models.For("director"), logger),
		summarizer: NewSummarizer(cfg.LLM, cfg.Models.For("summarizer")),
		handlers:   handlers,
		tracer:     telemetry.Tracer("github.com/2389/clawswarm/internal/orchestration"),
		logger:     logger,
	}
}

// Run executes the full pipeline. The reply is never empty; only context
// errors are returned.
func (e *Engine) Run(ctx context.Context, in Input) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "orchestration.run")
	defer span.End()

	var res Result

	dctx, dspan := e.tracer.Start(ctx, "orchestration.director")
	spec, fellBack, err := e.director.Plan(dctx, in.Text, in.MemoryContext)
	dspan.SetAttributes(
		attribute.Int("assignments", len(spec.Assignments)),
		attribute.Bool("direct_reply", spec.DirectReply),
		attribute.Bool("fallback", fellBack),
	)
	dspan.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "director")
		return res, err
	}
	res.Spec = spec
	res.FellBack = fellBack

	res.Results = make([]WorkerResult, 0, len(spec.Assignments))
	for _, a := range spec.Assignments {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return res, err
		}
		task := Task{Text: a.Task, Message: in.Text, MemoryContext: in.MemoryContext}
		if spec.DirectReply && a.Worker == WorkerResponse {
			task.Hint = spec.Reply
		}

		wctx, wspan := e.tracer.Start(ctx, "orchestration.worker", trace.WithAttributes(
			attribute.String("worker", a.Worker.String()),
		))
		r := runWorker(wctx, e.handlers, a, task)
		if !r.OK() {
			wspan.SetStatus(codes.Error, r.ErrorDetail)
			e.logger.Warn("worker failed", "worker", a.Worker, "error", r.ErrorDetail)
		}
		wspan.End()
		metrics.WorkerRuns.WithLabelValues(a.Worker.String(), string(r.Status)).Inc()
		res.Results = append(res.Results, r)
	}

	sctx, sspan := e.tracer.Start(ctx, "orchestration.summarizer")
	reply, err := e.summarizer.Summarize(sctx, in.Text, res.Results)
	if err != nil {
		sspan.RecordError(err)
		if ctx.Err() != nil {
			sspan.End()
			return res, ctx.Err()
		}
		if !errors.Is(err, ErrSummarizationEmpty) {
			e.logger.Warn("summarizer failed", "error", err)
		}
		reply = fallbackReply(in.Text, res.Results)
	} else {
		res.Summarized = true
	}
	sspan.End()

	res.Reply = reply
	return res, nil
}

// fallbackReply uses the last successful worker output, or the apology.
func fallbackReply(message string, results []WorkerResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].OK() {
			continue
		}
		if text := StripEmoji(ExtractFinalReply(results[i].Output, message)); strings.TrimSpace(text) != "" {
			return text
		}
	}
	return Apology
}
