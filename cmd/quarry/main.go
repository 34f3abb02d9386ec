package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	quarry "github.com/quarryhq/quarry"
	"github.com/quarryhq/quarry/chunk"
	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/observer"
	"github.com/quarryhq/quarry/provider/openaicompat"
	"github.com/quarryhq/quarry/store/postgres"
	"github.com/quarryhq/quarry/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg := config.Load(os.Getenv("QUARRY_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Create provider
	var provider quarry.Provider = openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)

	// 3. Observability (optional)
	var inst *observer.Instruments
	var costModel func(in, out int) float64
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("init observer: %v", err)
		}
		defer shutdown(context.Background()) //nolint:errcheck
		observed := observer.WrapProvider(provider, cfg.LLM.Model, inst)
		provider = observed
		costModel = observed.TokenCost()
	}

	// 4. Create store
	var store quarry.Store
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	default:
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}
	defer store.Close()

	// 5. Wire the pipeline
	chunker, err := chunk.New(cfg.ChunkerSettings())
	if err != nil {
		log.Fatalf("chunker config: %v", err)
	}
	router, err := chunk.NewRouter(cfg.RouterSettings())
	if err != nil {
		log.Fatalf("router config: %v", err)
	}
	limCfg := cfg.LimiterSettings()
	if err := limCfg.Validate(); err != nil {
		log.Fatalf("limiter config: %v", err)
	}
	limiter := quarry.NewLimiter(limCfg)
	breaker := quarry.NewBreaker(cfg.Breaker.FailureThreshold, cfg.BreakerOpenTimeout())

	refCfg := cfg.RefinerSettings()
	if err := refCfg.Validate(); err != nil {
		log.Fatalf("refiner config: %v", err)
	}
	refinerOpts := []quarry.RefinerOption{quarry.WithRefinerLogger(logger)}
	if costModel != nil {
		refinerOpts = append(refinerOpts, quarry.WithCostModel(costModel))
	}
	refiner := quarry.NewRefiner(provider, limiter, breaker, refCfg, refinerOpts...)

	proc := quarry.NewProcessor(chunker, router, refiner, quarry.WithProcessorLogger(logger))
	coord, err := quarry.NewCoordinator(store, proc, limiter, breaker,
		cfg.CoordinatorSettings(), quarry.WithCoordinatorLogger(logger))
	if err != nil {
		log.Fatalf("coordinator config: %v", err)
	}
	defer coord.Close()

	// 6. Run the dispatcher until interrupted.
	logger.Info("quarry started",
		"provider", provider.Name(),
		"model", cfg.LLM.Model,
		"database", cfg.Database.Driver)
	if err := coord.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("run: %v", err)
	}
}
