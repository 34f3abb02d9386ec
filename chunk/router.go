package chunk

import (
	"math"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	gtext "github.com/yuin/goldmark/text"

	quarry "github.com/quarryhq/quarry"
)

// Weights blend the three quality factors. They must sum to 1.0.
type Weights struct {
	Boundary   float64
	Size       float64
	Complexity float64
}

// RouterConfig tunes the quality router.
type RouterConfig struct {
	Weights Weights
	// ConfidenceMin is the routing cutoff: a chunk whose combined score is
	// strictly below it needs refinement. A score exactly at the cutoff
	// does not.
	ConfidenceMin float64
	// Word bounds used by the size factor; normally the chunker's values.
	TargetWords int
	MinWords    int
	MaxWords    int
}

// DefaultRouterConfig returns production defaults matching DefaultConfig.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Weights:       Weights{Boundary: 0.4, Size: 0.3, Complexity: 0.3},
		ConfidenceMin: 0.6,
		TargetWords:   400,
		MinWords:      200,
		MaxWords:      600,
	}
}

// Validate rejects weights that do not sum to 1.0 and out-of-range cutoffs.
func (c RouterConfig) Validate() error {
	w := c.Weights
	if w.Boundary < 0 || w.Size < 0 || w.Complexity < 0 {
		return &quarry.ErrConfig{Field: "router.weights", Message: "weights must be >= 0"}
	}
	if sum := w.Boundary + w.Size + w.Complexity; math.Abs(sum-1.0) > 1e-6 {
		return &quarry.ErrConfig{Field: "router.weights", Message: "weights must sum to 1.0"}
	}
	if c.ConfidenceMin < 0 || c.ConfidenceMin > 1 {
		return &quarry.ErrConfig{Field: "router.confidence_min", Message: "must be in [0, 1]"}
	}
	if c.MinWords <= 0 || c.TargetWords < c.MinWords || c.MaxWords < c.TargetWords {
		return &quarry.ErrConfig{Field: "router", Message: "need 0 < min_words <= target_words <= max_words"}
	}
	return nil
}

// Router scores chunks and decides which need LLM refinement. Pure and
// deterministic given its configuration.
type Router struct {
	cfg RouterConfig
	md  goldmark.Markdown
}

// NewRouter creates a Router, validating the config.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		cfg: cfg,
		md:  goldmark.New(goldmark.WithExtensions(extension.Table)),
	}, nil
}

// Route scores one chunk. Low combined score means low confidence in the
// cut, which routes the chunk to refinement.
func (r *Router) Route(c quarry.Chunk) quarry.RoutingDecision {
	b := boundaryScore(c.Text)
	s := r.sizeScore(c.WordCount)
	x := r.complexityScore(c.Text)

	w := r.cfg.Weights
	score := w.Boundary*b + w.Size*s + w.Complexity*x

	return quarry.RoutingDecision{
		ChunkID:    c.ID,
		NeedsLLM:   score < r.cfg.ConfidenceMin,
		Confidence: score,
		Factors: quarry.QualityScore{
			Boundary:   b,
			Size:       s,
			Complexity: x,
			Combined:   score,
		},
	}
}

// boundaryScore is 1.0 when both cut points align with sentence or block
// boundaries, losing 0.5 per misaligned end.
func boundaryScore(text string) float64 {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0
	}
	score := 0.0
	if startsAtSentence(t) {
		score += 0.5
	}
	if endsAtSentence(t) {
		score += 0.5
	}
	return score
}

// sizeScore penalizes deviation from TargetWords, reaching 0 at the
// MinWords/MaxWords clip points.
func (r *Router) sizeScore(wc int) float64 {
	target, minW, maxW := r.cfg.TargetWords, r.cfg.MinWords, r.cfg.MaxWords
	if wc <= 0 {
		return 0
	}
	var dev float64
	switch {
	case wc == target:
		return 1
	case wc > target:
		if maxW == target {
			return 0
		}
		dev = float64(wc-target) / float64(maxW-target)
	default:
		if target == minW {
			return 0
		}
		dev = float64(target-wc) / float64(target-minW)
	}
	if dev > 1 {
		dev = 1
	}
	return 1 - dev
}

// complexityScore is 1.0 for plain prose and drops toward 0 as structural
// irregularity (lists, tables, code blocks, headings) grows, since base
// chunking handles those poorly.
func (r *Router) complexityScore(text string) float64 {
	src := []byte(text)
	doc := r.md.Parser().Parse(gtext.NewReader(src))

	total, structural := 0, 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		total++
		switch n.Kind() {
		case ast.KindList, ast.KindFencedCodeBlock, ast.KindCodeBlock,
			ast.KindBlockquote, ast.KindThematicBreak, ast.KindHeading,
			extast.KindTable:
			structural++
		}
	}
	if total == 0 {
		return 0
	}

	irregularity := float64(structural) / float64(total)

	// Inline signals markdown parsing misses: table pipes and tab runs.
	if strings.Count(text, "|") >= 4 || strings.Contains(text, "\t\t") {
		irregularity += 0.25
	}
	if irregularity > 1 {
		irregularity = 1
	}
	return 1 - irregularity
}
