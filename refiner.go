package quarry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const refinePrompt = `<article>
%s
</article>

Here is one retrieval chunk cut from the article above:
<chunk>
%s
</chunk>

Rewrite the chunk so it reads as a self-contained passage, fixing any cut
that falls mid-sentence or splits a structure (list, table, heading from its
body). If the cut points should move, say by how many bytes. Respond with
JSON only, no prose:
{"text": "<refined chunk text>", "start_delta": 0, "end_delta": 0}`

// RefinerConfig tunes the protected LLM refinement client.
type RefinerConfig struct {
	// MaxRetries is the number of retries after the first attempt for
	// transient failures.
	MaxRetries int
	// BaseDelay and MaxDelay bound the exponential backoff between retries.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// CallTimeout bounds a single provider call. Independent from the
	// breaker's open/half-open timeout.
	CallTimeout time.Duration
	// MaxOffset is how far (bytes) a suggested boundary move may stray from
	// the original cut before being discarded.
	MaxOffset int
	// MaxArticleBytes truncates the article context in the prompt.
	MaxArticleBytes int
	// MaxTokens caps the provider's response length.
	MaxTokens int
}

// Validate rejects out-of-range values at startup.
func (c RefinerConfig) Validate() error {
	if c.MaxRetries < 0 {
		return &ErrConfig{Field: "refiner.max_retries", Message: "must be >= 0"}
	}
	if c.BaseDelay < 0 || c.MaxDelay < c.BaseDelay {
		return &ErrConfig{Field: "refiner.backoff", Message: "need 0 <= base_delay <= max_delay"}
	}
	if c.CallTimeout <= 0 {
		return &ErrConfig{Field: "refiner.call_timeout", Message: "must be > 0"}
	}
	if c.MaxOffset < 0 {
		return &ErrConfig{Field: "refiner.max_offset", Message: "must be >= 0"}
	}
	return nil
}

// DefaultRefinerConfig returns production defaults.
func DefaultRefinerConfig() RefinerConfig {
	return RefinerConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		CallTimeout:     60 * time.Second,
		MaxOffset:       200,
		MaxArticleBytes: 24_000,
		MaxTokens:       2048,
	}
}

// RefineOutcome classifies what happened to a chunk in Refine.
type RefineOutcome string

const (
	// RefineApplied: the call succeeded and the chunk was updated.
	RefineApplied RefineOutcome = "applied"
	// RefineDenied: rate limiter or breaker refused the call. Not a failure.
	RefineDenied RefineOutcome = "denied"
	// RefineFailed: the call was attempted and failed (after retries for
	// transient errors, immediately for fatal ones).
	RefineFailed RefineOutcome = "failed"
	// RefineSkipped: the caller's context was cancelled before or during the
	// attempt. Neither a provider failure nor a denial.
	RefineSkipped RefineOutcome = "skipped"
)

// Refiner calls the completion provider to clean up low-confidence chunks,
// protected by the rate limiter and circuit breaker. All failures degrade to
// returning the chunk with refinement status updated; Refine never reports
// an error past its own boundary.
type Refiner struct {
	provider Provider
	limiter  *Limiter
	breaker  *Breaker
	cfg      RefinerConfig
	logger   *slog.Logger

	// cost maps token usage to USD; when nil the limiter's fixed per-call
	// estimate is recorded instead.
	cost func(in, out int) float64
}

// RefinerOption configures a Refiner.
type RefinerOption func(*Refiner)

// WithRefinerLogger sets a structured logger for denial/failure events.
func WithRefinerLogger(l *slog.Logger) RefinerOption {
	return func(r *Refiner) { r.logger = l }
}

// WithCostModel sets the token-to-USD cost model used for Record.
func WithCostModel(f func(inputTokens, outputTokens int) float64) RefinerOption {
	return func(r *Refiner) { r.cost = f }
}

// NewRefiner wires the provider behind the limiter and breaker.
func NewRefiner(p Provider, l *Limiter, b *Breaker, cfg RefinerConfig, opts ...RefinerOption) *Refiner {
	r := &Refiner{
		provider: p,
		limiter:  l,
		breaker:  b,
		cfg:      cfg,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refine runs one chunk through the protected call sequence:
// limiter admit → breaker allow → call with per-call timeout → bounded
// retries on transient errors. Denials leave the chunk unrefined; exhausted
// or fatal failures mark it refinement_failed. On success the provider's
// text replaces the chunk text, and the suggested boundary move is applied
// only when it stays within MaxOffset of the original cut — a rejected move
// keeps the original offsets while the chunk is still marked refined.
func (r *Refiner) Refine(ctx context.Context, c Chunk, a Article, budget *BatchBudget) (Chunk, RefineOutcome) {
	if err := r.limiter.Admit(a.Domain, budget); err != nil {
		r.logger.Debug("refinement denied by rate limiter",
			"chunk_id", c.ID, "domain", a.Domain, "err", err)
		return c, RefineDenied
	}
	if err := r.breaker.Allow(); err != nil {
		// Return the slots Admit reserved; the provider was never reached, so
		// an open breaker must not drain the minute window or batch budget.
		r.limiter.releaseAdmit(a.Domain)
		if budget != nil {
			budget.release()
		}
		r.logger.Debug("refinement denied by circuit breaker", "chunk_id", c.ID)
		return c, RefineDenied
	}

	req := CompletionRequest{
		Prompt:    fmt.Sprintf(refinePrompt, truncateArticle(a.Text, r.cfg.MaxArticleBytes), c.Text),
		MaxTokens: r.cfg.MaxTokens,
	}

	var lastErr error
	attempts := r.cfg.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		resp, err := r.provider.Complete(cctx, req)
		cancel()

		if err == nil {
			refined, ok := r.apply(c, a, resp.Text)
			if !ok {
				// Unusable payload: non-retryable, counts against the breaker.
				r.breaker.OnFailure()
				r.record(a.Domain, resp.Usage)
				r.logger.Warn("refinement response unusable", "chunk_id", c.ID)
				c.Status = RefinementFailed
				return c, RefineFailed
			}
			r.breaker.OnSuccess()
			r.record(a.Domain, resp.Usage)
			return refined, RefineApplied
		}

		if ctx.Err() != nil {
			// Caller cancellation, not the dependency's fault.
			r.limiter.Record(a.Domain, 0)
			return c, RefineSkipped
		}
		if !isTransient(err) {
			r.breaker.OnFailure()
			r.record(a.Domain, Usage{})
			r.logger.Warn("refinement failed (fatal)",
				"chunk_id", c.ID, "status", statusOf(err), "err", err)
			c.Status = RefinementFailed
			return c, RefineFailed
		}

		lastErr = err
		r.logger.Warn("retrying transient refinement error",
			"chunk_id", c.ID, "status", statusOf(err),
			"attempt", i+1, "max_attempts", attempts)
		if i < attempts-1 {
			if sleepCtx(ctx, retryDelay(r.cfg.BaseDelay, r.cfg.MaxDelay, i, err)) != nil {
				r.limiter.Record(a.Domain, 0)
				return c, RefineSkipped
			}
		}
	}

	r.breaker.OnFailure()
	r.record(a.Domain, Usage{})
	r.logger.Error("refinement retries exhausted",
		"chunk_id", c.ID, "attempts", attempts, "err", lastErr)
	c.Status = RefinementFailed
	return c, RefineFailed
}

// record reports cost to the limiter: the cost model when usage is known,
// the fixed per-call estimate otherwise.
func (r *Refiner) record(domain string, u Usage) {
	if r.cost != nil && (u.InputTokens > 0 || u.OutputTokens > 0) {
		r.limiter.Record(domain, r.cost(u.InputTokens, u.OutputTokens))
		return
	}
	r.limiter.Record(domain, r.limiter.cfg.CostPerCall)
}

// refineReply is the JSON payload the provider is asked to return.
type refineReply struct {
	Text       string `json:"text"`
	StartDelta int    `json:"start_delta"`
	EndDelta   int    `json:"end_delta"`
}

// apply parses the provider's reply and merges it into the chunk. Returns
// false when the payload is unusable.
func (r *Refiner) apply(c Chunk, a Article, raw string) (Chunk, bool) {
	payload := extractJSON(raw)
	if payload == "" {
		return c, false
	}
	var reply refineReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return c, false
	}
	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Text == "" {
		return c, false
	}

	c.Text = reply.Text
	c.WordCount = len(strings.Fields(reply.Text))

	// Boundary move accepted only within the max-offset window; otherwise
	// the original cut stands and only the text is refined.
	if abs(reply.StartDelta) <= r.cfg.MaxOffset && abs(reply.EndDelta) <= r.cfg.MaxOffset {
		start := clamp(c.Start+reply.StartDelta, 0, len(a.Text))
		end := clamp(c.End+reply.EndDelta, 0, len(a.Text))
		if start < end {
			c.Start, c.End = start, end
		}
	}
	c.Status = RefinementDone
	return c, true
}

// extractJSON pulls the outermost JSON object out of a possibly fenced or
// chatty completion.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// truncateArticle cuts text to maxBytes at the nearest preceding word
// boundary. Returns the original text if maxBytes is 0 or the text fits.
func truncateArticle(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	if text[maxBytes] == ' ' || text[maxBytes] == '\n' {
		return text[:maxBytes]
	}
	cut := maxBytes
	for cut > 0 && text[cut-1] != ' ' && text[cut-1] != '\n' {
		cut--
	}
	if cut == 0 {
		return text[:maxBytes]
	}
	return strings.TrimSpace(text[:cut])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
