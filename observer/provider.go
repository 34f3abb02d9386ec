package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	quarry "github.com/quarryhq/quarry"
)

// ObservedProvider wraps a quarry.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner quarry.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces, metrics, and logs.
func WrapProvider(inner quarry.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

// Complete instruments one completion call.
func (o *ObservedProvider) Complete(ctx context.Context, req quarry.CompletionRequest) (quarry.CompletionResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Complete(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, status string, durationMs float64, usage quarry.Usage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// TokenCost returns a cost model function for quarry.WithCostModel, bound to
// this provider's model pricing.
func (o *ObservedProvider) TokenCost() func(inputTokens, outputTokens int) float64 {
	return func(in, out int) float64 {
		return o.inst.Cost.Calculate(o.model, in, out)
	}
}

// RecordBatch publishes one batch result to the pipeline counters.
func (inst *Instruments) RecordBatch(ctx context.Context, res quarry.BatchResult) {
	inst.ArticlesProcessed.Add(ctx, int64(res.ArticlesProcessed))
	inst.ArticlesFailed.Add(ctx, int64(res.ArticlesFailed))
	inst.ChunksCreated.Add(ctx, int64(res.ChunksCreated))
	inst.ChunksRefined.Add(ctx, int64(res.ChunksRefined))
	inst.RefinementsDenied.Add(ctx, int64(res.RefinementsDenied))
	inst.RefinementsFailed.Add(ctx, int64(res.RefinementsFailed))
	inst.BatchDuration.Record(ctx, float64(res.Elapsed.Milliseconds()),
		metric.WithAttributes(AttrBatchArticles.Int(res.ArticlesProcessed+res.ArticlesFailed)))
}

var _ quarry.Provider = (*ObservedProvider)(nil)
