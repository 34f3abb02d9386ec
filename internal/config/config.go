// Package config loads pipeline configuration from quarry.toml with
// environment overrides.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	quarry "github.com/quarryhq/quarry"
	"github.com/quarryhq/quarry/chunk"
)

type Config struct {
	LLM         LLMConfig         `toml:"llm"`
	Database    DatabaseConfig    `toml:"database"`
	Chunker     ChunkerConfig     `toml:"chunker"`
	Router      RouterConfig      `toml:"router"`
	Limiter     LimiterConfig     `toml:"limiter"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Refiner     RefinerConfig     `toml:"refiner"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Observer    ObserverConfig    `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
}

type DatabaseConfig struct {
	// Driver selects the store: "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// Path is the SQLite file path (sqlite driver only).
	Path string `toml:"path"`
	// URL is the connection string (postgres driver only).
	URL string `toml:"url"`
}

type ChunkerConfig struct {
	TargetWords  int `toml:"target_words"`
	MinWords     int `toml:"min_words"`
	MaxWords     int `toml:"max_words"`
	OverlapWords int `toml:"overlap_words"`
	MinChars     int `toml:"min_chars"`
}

type RouterConfig struct {
	BoundaryWeight   float64 `toml:"boundary_weight"`
	SizeWeight       float64 `toml:"size_weight"`
	ComplexityWeight float64 `toml:"complexity_weight"`
	ConfidenceMin    float64 `toml:"confidence_min"`
}

type LimiterConfig struct {
	CallsPerMinute          int     `toml:"calls_per_minute"`
	CallsPerDomainPerMinute int     `toml:"calls_per_domain_per_minute"`
	CallsPerBatch           int     `toml:"calls_per_batch"`
	MaxLLMFraction          float64 `toml:"max_llm_fraction"`
	DailyCostLimit          float64 `toml:"daily_cost_limit"`
	CostPerCall             float64 `toml:"cost_per_call"`
}

type BreakerConfig struct {
	FailureThreshold int    `toml:"failure_threshold"`
	OpenTimeout      string `toml:"open_timeout"`
}

type RefinerConfig struct {
	MaxRetries  int    `toml:"max_retries"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	CallTimeout string `toml:"call_timeout"`
	MaxOffset   int    `toml:"max_offset"`
}

type CoordinatorConfig struct {
	BatchSize             int     `toml:"batch_size"`
	MaxConcurrentBatches  int     `toml:"max_concurrent_batches"`
	Workers               int     `toml:"workers"`
	MaxInFlight           int     `toml:"max_in_flight"`
	BackpressureThreshold float64 `toml:"backpressure_threshold"`
	RetryFailedArticles   bool    `toml:"retry_failed_articles"`
	MaxRetries            int     `toml:"max_retries"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	ck := chunk.DefaultConfig()
	rt := chunk.DefaultRouterConfig()
	rf := quarry.DefaultRefinerConfig()
	co := quarry.DefaultCoordinatorConfig()
	return Config{
		LLM:      LLMConfig{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "quarry.db"},
		Chunker: ChunkerConfig{
			TargetWords:  ck.TargetWords,
			MinWords:     ck.MinWords,
			MaxWords:     ck.MaxWords,
			OverlapWords: ck.OverlapWords,
			MinChars:     ck.MinChars,
		},
		Router: RouterConfig{
			BoundaryWeight:   rt.Weights.Boundary,
			SizeWeight:       rt.Weights.Size,
			ComplexityWeight: rt.Weights.Complexity,
			ConfidenceMin:    rt.ConfidenceMin,
		},
		Limiter: LimiterConfig{
			CallsPerMinute:          60,
			CallsPerDomainPerMinute: 10,
			CallsPerBatch:           100,
			MaxLLMFraction:          0.3,
			DailyCostLimit:          25.0,
			CostPerCall:             0.002,
		},
		Breaker: BreakerConfig{FailureThreshold: 5, OpenTimeout: "30s"},
		Refiner: RefinerConfig{
			MaxRetries:  rf.MaxRetries,
			BaseDelay:   rf.BaseDelay.String(),
			MaxDelay:    rf.MaxDelay.String(),
			CallTimeout: rf.CallTimeout.String(),
			MaxOffset:   rf.MaxOffset,
		},
		Coordinator: CoordinatorConfig{
			BatchSize:             co.BatchSize,
			MaxConcurrentBatches:  co.MaxConcurrentBatches,
			Workers:               co.Workers,
			MaxInFlight:           co.MaxInFlight,
			BackpressureThreshold: co.BackpressureThreshold,
			RetryFailedArticles:   co.RetryFailedArticles,
			MaxRetries:            co.MaxRetries,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "quarry.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("QUARRY_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("QUARRY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("QUARRY_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = "postgres"
	}
	if os.Getenv("QUARRY_OBSERVER_ENABLED") == "true" || os.Getenv("QUARRY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// ChunkerSettings converts to the chunk package's config type.
func (c Config) ChunkerSettings() chunk.Config {
	return chunk.Config{
		TargetWords:  c.Chunker.TargetWords,
		MinWords:     c.Chunker.MinWords,
		MaxWords:     c.Chunker.MaxWords,
		OverlapWords: c.Chunker.OverlapWords,
		MinChars:     c.Chunker.MinChars,
	}
}

// RouterSettings converts to the chunk package's router config, reusing the
// chunker's word bounds for the size factor.
func (c Config) RouterSettings() chunk.RouterConfig {
	return chunk.RouterConfig{
		Weights: chunk.Weights{
			Boundary:   c.Router.BoundaryWeight,
			Size:       c.Router.SizeWeight,
			Complexity: c.Router.ComplexityWeight,
		},
		ConfidenceMin: c.Router.ConfidenceMin,
		TargetWords:   c.Chunker.TargetWords,
		MinWords:      c.Chunker.MinWords,
		MaxWords:      c.Chunker.MaxWords,
	}
}

// LimiterSettings converts to the root limiter config.
func (c Config) LimiterSettings() quarry.LimiterConfig {
	return quarry.LimiterConfig{
		CallsPerMinute:          c.Limiter.CallsPerMinute,
		CallsPerDomainPerMinute: c.Limiter.CallsPerDomainPerMinute,
		CallsPerBatch:           c.Limiter.CallsPerBatch,
		MaxLLMFraction:          c.Limiter.MaxLLMFraction,
		DailyCostLimit:          c.Limiter.DailyCostLimit,
		CostPerCall:             c.Limiter.CostPerCall,
	}
}

// RefinerSettings converts to the root refiner config. Unparseable durations
// keep the defaults.
func (c Config) RefinerSettings() quarry.RefinerConfig {
	rf := quarry.DefaultRefinerConfig()
	rf.MaxRetries = c.Refiner.MaxRetries
	rf.MaxOffset = c.Refiner.MaxOffset
	if d, err := time.ParseDuration(c.Refiner.BaseDelay); err == nil {
		rf.BaseDelay = d
	}
	if d, err := time.ParseDuration(c.Refiner.MaxDelay); err == nil {
		rf.MaxDelay = d
	}
	if d, err := time.ParseDuration(c.Refiner.CallTimeout); err == nil {
		rf.CallTimeout = d
	}
	return rf
}

// BreakerOpenTimeout parses the breaker's open timeout, defaulting to 30s.
func (c Config) BreakerOpenTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Breaker.OpenTimeout); err == nil {
		return d
	}
	return 30 * time.Second
}

// CoordinatorSettings converts to the root coordinator config.
func (c Config) CoordinatorSettings() quarry.CoordinatorConfig {
	return quarry.CoordinatorConfig{
		BatchSize:             c.Coordinator.BatchSize,
		MaxConcurrentBatches:  c.Coordinator.MaxConcurrentBatches,
		Workers:               c.Coordinator.Workers,
		MaxInFlight:           c.Coordinator.MaxInFlight,
		BackpressureThreshold: c.Coordinator.BackpressureThreshold,
		RetryFailedArticles:   c.Coordinator.RetryFailedArticles,
		MaxRetries:            c.Coordinator.MaxRetries,
	}
}
