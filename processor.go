package quarry

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// Segmenter splits article text into ordered chunks. Implemented by
// chunk.Chunker; pure, no I/O.
type Segmenter interface {
	Chunk(articleID, text string) []Chunk
}

// Router decides whether a chunk needs LLM refinement. Implemented by
// chunk.Router; pure, no I/O.
type Router interface {
	Route(c Chunk) RoutingDecision
}

// ArticleStats aggregates one article's pipeline outcome.
type ArticleStats struct {
	Chunks  int
	Flagged int
	Refined int
	Denied  int
	Failed  int
}

// Processor runs one article through chunk → route → refine. It owns no
// shared state; all sharing lives in the refiner's limiter and breaker.
type Processor struct {
	segmenter Segmenter
	router    Router
	refiner   *Refiner
	logger    *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets a structured logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor wires the per-article pipeline. refiner may be nil, in which
// case flagged chunks simply stay unrefined.
func NewProcessor(s Segmenter, r Router, refiner *Refiner, opts ...ProcessorOption) *Processor {
	p := &Processor{
		segmenter: s,
		router:    r,
		refiner:   refiner,
		logger:    nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Segment chunks and routes one article. The returned error is an
// article-level chunking failure (malformed input); empty text is not an
// error, it yields no chunks.
func (p *Processor) Segment(a Article) ([]Chunk, []RoutingDecision, error) {
	if !utf8.ValidString(a.Text) {
		return nil, nil, fmt.Errorf("chunk article %s: text is not valid UTF-8", a.ID)
	}
	chunks := p.segmenter.Chunk(a.ID, a.Text)
	decisions := make([]RoutingDecision, len(chunks))
	for i := range chunks {
		d := p.route(chunks[i])
		chunks[i].Score = d.Factors
		decisions[i] = d
	}
	return chunks, decisions, nil
}

// route fails safe: any routing panic keeps the chunk on the cheap path
// instead of propagating.
func (p *Processor) route(c Chunk) (d RoutingDecision) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("router panicked, keeping chunk unrefined",
				"chunk_id", c.ID, "panic", r)
			d = RoutingDecision{ChunkID: c.ID}
		}
	}()
	return p.router.Route(c)
}

// RefineFlagged sends flagged chunks through the protected client, strictly
// sequentially within the article. Chunks are updated in place.
func (p *Processor) RefineFlagged(ctx context.Context, a Article, chunks []Chunk, decisions []RoutingDecision, budget *BatchBudget) ArticleStats {
	st := ArticleStats{Chunks: len(chunks)}
	for i := range chunks {
		if i >= len(decisions) || !decisions[i].NeedsLLM {
			continue
		}
		st.Flagged++
		if p.refiner == nil {
			continue
		}
		refined, outcome := p.refiner.Refine(ctx, chunks[i], a, budget)
		chunks[i] = refined
		switch outcome {
		case RefineApplied:
			st.Refined++
		case RefineDenied:
			st.Denied++
		case RefineFailed:
			st.Failed++
		}
	}
	return st
}

// Process is the one-article convenience path: Segment then RefineFlagged.
func (p *Processor) Process(ctx context.Context, a Article, budget *BatchBudget) ([]Chunk, ArticleStats, error) {
	chunks, decisions, err := p.Segment(a)
	if err != nil {
		return nil, ArticleStats{}, err
	}
	return chunks, p.RefineFlagged(ctx, a, chunks, decisions, budget), nil
}
