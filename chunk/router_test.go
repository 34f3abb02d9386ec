package chunk

import (
	"math"
	"testing"

	quarry "github.com/quarryhq/quarry"
)

func mustRouter(t *testing.T, cfg RouterConfig) *Router {
	t.Helper()
	r, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestRoute_CleanProseIsConfident(t *testing.T) {
	r := mustRouter(t, DefaultRouterConfig())
	c := quarry.Chunk{
		ID:        "c1",
		Text:      "The quick brown fox jumps over the lazy dog. It does so every day.",
		WordCount: 400,
	}

	d := r.Route(c)
	if d.ChunkID != "c1" {
		t.Errorf("ChunkID = %q", d.ChunkID)
	}
	if d.NeedsLLM {
		t.Errorf("clean prose at target size routed to refinement (confidence %v)", d.Confidence)
	}
	if d.Factors.Boundary != 1.0 {
		t.Errorf("Boundary = %v, want 1.0", d.Factors.Boundary)
	}
	if d.Factors.Size != 1.0 {
		t.Errorf("Size = %v, want 1.0 at target", d.Factors.Size)
	}
	if d.Factors.Combined != d.Confidence {
		t.Errorf("Combined = %v, Confidence = %v", d.Factors.Combined, d.Confidence)
	}
}

func TestRoute_MidSentenceCutNeedsRefinement(t *testing.T) {
	r := mustRouter(t, DefaultRouterConfig())
	// Starts and ends mid-sentence, and sits at the word cap.
	c := quarry.Chunk{
		ID:        "c2",
		Text:      "quick brown fox jumps over the lazy",
		WordCount: 600,
	}

	d := r.Route(c)
	if !d.NeedsLLM {
		t.Errorf("mid-sentence cut not routed to refinement (confidence %v)", d.Confidence)
	}
	if d.Factors.Boundary != 0 {
		t.Errorf("Boundary = %v, want 0", d.Factors.Boundary)
	}
	if d.Factors.Size != 0 {
		t.Errorf("Size = %v, want 0 at max words", d.Factors.Size)
	}
}

func TestRoute_ScoreAtCutoffStaysBase(t *testing.T) {
	r := mustRouter(t, DefaultRouterConfig())
	// Boundary 0, size 1, complexity 1: combined lands exactly on the
	// cutoff, which keeps the base chunk.
	c := quarry.Chunk{
		ID:        "c3",
		Text:      "plain words without punctuation ending",
		WordCount: 400,
	}

	d := r.Route(c)
	if math.Abs(d.Confidence-0.6) > 1e-9 {
		t.Fatalf("Confidence = %v, want 0.6", d.Confidence)
	}
	if d.NeedsLLM {
		t.Error("score at the cutoff must not route to refinement")
	}
}

func TestSizeScore(t *testing.T) {
	r := mustRouter(t, DefaultRouterConfig())
	cases := []struct {
		wc   int
		want float64
	}{
		{400, 1},
		{200, 0},
		{600, 0},
		{300, 0.5},
		{500, 0.5},
		{0, 0},
		{50, 0},
		{1000, 0},
	}
	for _, tc := range cases {
		if got := r.sizeScore(tc.wc); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("sizeScore(%d) = %v, want %v", tc.wc, got, tc.want)
		}
	}
}

func TestComplexityScore_StructureLowersConfidence(t *testing.T) {
	r := mustRouter(t, DefaultRouterConfig())

	prose := r.complexityScore("Just a plain paragraph of ordinary text. Nothing unusual here.")
	table := r.complexityScore("| name | count |\n|------|-------|\n| a    | 1     |")
	list := r.complexityScore("- first item\n- second item\n- third item")
	code := r.complexityScore("```\nfunc main() {}\n```")

	if prose != 1.0 {
		t.Errorf("prose complexity = %v, want 1.0", prose)
	}
	for name, got := range map[string]float64{"table": table, "list": list, "code": code} {
		if got >= 0.5 {
			t.Errorf("%s complexity = %v, want < 0.5", name, got)
		}
	}
}

func TestBoundaryScore(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"The whole sentence is here.", 1.0},
		{"\"Quoted sentence ends cleanly.\"", 1.0},
		{"The start is fine but the end is not", 0.5},
		{"ends cleanly but starts mid-thought.", 0.5},
		{"neither end is aligned", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := boundaryScore(tc.text); got != tc.want {
			t.Errorf("boundaryScore(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestRouterConfig_Validate(t *testing.T) {
	base := DefaultRouterConfig()
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	bad := base
	bad.Weights = Weights{Boundary: 0.5, Size: 0.5, Complexity: 0.5}
	if err := bad.Validate(); err == nil {
		t.Error("weights summing to 1.5 should fail")
	}

	bad = base
	bad.Weights = Weights{Boundary: -0.2, Size: 0.6, Complexity: 0.6}
	if err := bad.Validate(); err == nil {
		t.Error("negative weight should fail")
	}

	bad = base
	bad.ConfidenceMin = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("cutoff above 1 should fail")
	}
}
