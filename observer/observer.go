// Package observer provides OTEL-based observability for the chunking
// pipeline.
//
// It wraps the completion Provider with an instrumented version that emits
// traces, metrics, and logs via OpenTelemetry, and exposes batch-level
// counters for the coordinator. Users export to any OTEL-compatible backend
// by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/quarryhq/quarry/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// LLM counters
	TokenUsage  metric.Int64Counter
	CostTotal   metric.Float64Counter
	LLMRequests metric.Int64Counter

	// Pipeline counters
	ChunksCreated     metric.Int64Counter
	ChunksRefined     metric.Int64Counter
	RefinementsDenied metric.Int64Counter
	RefinementsFailed metric.Int64Counter
	ArticlesProcessed metric.Int64Counter
	ArticlesFailed    metric.Int64Counter

	// Histograms
	LLMDuration   metric.Float64Histogram
	BatchDuration metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("quarry")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	costTotal, err := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	chunksCreated, err := meter.Int64Counter("pipeline.chunks.created",
		metric.WithDescription("Chunks produced by segmentation"),
		metric.WithUnit("{chunk}"))
	if err != nil {
		return nil, err
	}

	chunksRefined, err := meter.Int64Counter("pipeline.chunks.refined",
		metric.WithDescription("Chunks successfully refined by the LLM"),
		metric.WithUnit("{chunk}"))
	if err != nil {
		return nil, err
	}

	refinementsDenied, err := meter.Int64Counter("pipeline.refinements.denied",
		metric.WithDescription("Refinements denied by rate limiter or breaker"),
		metric.WithUnit("{refinement}"))
	if err != nil {
		return nil, err
	}

	refinementsFailed, err := meter.Int64Counter("pipeline.refinements.failed",
		metric.WithDescription("Refinements that failed after retries"),
		metric.WithUnit("{refinement}"))
	if err != nil {
		return nil, err
	}

	articlesProcessed, err := meter.Int64Counter("pipeline.articles.processed",
		metric.WithDescription("Articles processed to completion"),
		metric.WithUnit("{article}"))
	if err != nil {
		return nil, err
	}

	articlesFailed, err := meter.Int64Counter("pipeline.articles.failed",
		metric.WithDescription("Articles that failed processing"),
		metric.WithUnit("{article}"))
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram("pipeline.batch.duration",
		metric.WithDescription("Batch processing duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tracer,
		Meter:             meter,
		Logger:            logger,
		TokenUsage:        tokenUsage,
		CostTotal:         costTotal,
		LLMRequests:       llmRequests,
		ChunksCreated:     chunksCreated,
		ChunksRefined:     chunksRefined,
		RefinementsDenied: refinementsDenied,
		RefinementsFailed: refinementsFailed,
		ArticlesProcessed: articlesProcessed,
		ArticlesFailed:    articlesFailed,
		LLMDuration:       llmDuration,
		BatchDuration:     batchDuration,
		Cost:              NewCostCalculator(pricing),
	}, nil
}
