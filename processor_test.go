package quarry

import (
	"context"
	"strings"
	"testing"
	"time"
)

type stubSegmenter func(articleID, text string) []Chunk

func (f stubSegmenter) Chunk(articleID, text string) []Chunk { return f(articleID, text) }

type stubRouter func(Chunk) RoutingDecision

func (f stubRouter) Route(c Chunk) RoutingDecision { return f(c) }

// wholeTextSegmenter emits one chunk spanning the full text.
func wholeTextSegmenter() stubSegmenter {
	return func(articleID, text string) []Chunk {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Chunk{{
			ID:        NewID(),
			ArticleID: articleID,
			Text:      text,
			Start:     0,
			End:       len(text),
			WordCount: len(strings.Fields(text)),
			Status:    RefinementNone,
		}}
	}
}

// halvesSegmenter emits two chunks splitting the text in the middle.
func halvesSegmenter() stubSegmenter {
	return func(articleID, text string) []Chunk {
		half := len(text) / 2
		mk := func(id string, start, end, idx int) Chunk {
			return Chunk{
				ID: id, ArticleID: articleID, Index: idx,
				Text: text[start:end], Start: start, End: end,
				WordCount: len(strings.Fields(text[start:end])),
				Status:    RefinementNone,
			}
		}
		return []Chunk{mk("c1", 0, half, 0), mk("c2", half, len(text), 1)}
	}
}

func flagAll(c Chunk) RoutingDecision {
	return RoutingDecision{ChunkID: c.ID, NeedsLLM: true, Confidence: 0.2, Factors: QualityScore{Combined: 0.2}}
}

func flagNone(c Chunk) RoutingDecision {
	return RoutingDecision{ChunkID: c.ID, NeedsLLM: false, Confidence: 0.9, Factors: QualityScore{Combined: 0.9}}
}

func TestProcessor_SegmentRejectsInvalidUTF8(t *testing.T) {
	p := NewProcessor(wholeTextSegmenter(), stubRouter(flagNone), nil)

	_, _, err := p.Segment(Article{ID: "a1", Text: "broken \xff\xfe bytes"})
	if err == nil {
		t.Fatal("expected error for invalid UTF-8 text")
	}
}

func TestProcessor_SegmentAttachesScores(t *testing.T) {
	p := NewProcessor(wholeTextSegmenter(), stubRouter(flagNone), nil)

	chunks, decisions, err := p.Segment(Article{ID: "a1", Text: "Some clean text here."})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || len(decisions) != 1 {
		t.Fatalf("got %d chunks, %d decisions", len(chunks), len(decisions))
	}
	if chunks[0].Score.Combined != 0.9 {
		t.Errorf("Score.Combined = %v, want router's 0.9", chunks[0].Score.Combined)
	}
	if decisions[0].ChunkID != chunks[0].ID {
		t.Errorf("decision ChunkID = %q, chunk ID = %q", decisions[0].ChunkID, chunks[0].ID)
	}
}

func TestProcessor_RouterPanicFailsSafe(t *testing.T) {
	panicky := stubRouter(func(c Chunk) RoutingDecision { panic("scoring bug") })
	p := NewProcessor(wholeTextSegmenter(), panicky, nil)

	chunks, decisions, err := p.Segment(Article{ID: "a1", Text: "Some text."})
	if err != nil {
		t.Fatalf("a routing panic must not fail the article: %v", err)
	}
	if decisions[0].NeedsLLM {
		t.Error("panicked routing should keep the chunk on the cheap path")
	}
	if decisions[0].ChunkID != chunks[0].ID {
		t.Errorf("fallback decision lost the chunk id")
	}
}

func TestProcessor_RefineFlaggedWithoutRefiner(t *testing.T) {
	p := NewProcessor(wholeTextSegmenter(), stubRouter(flagAll), nil)
	a := Article{ID: "a1", Text: "Needs refinement badly"}

	chunks, decisions, err := p.Segment(a)
	if err != nil {
		t.Fatal(err)
	}
	st := p.RefineFlagged(context.Background(), a, chunks, decisions, nil)
	if st.Flagged != 1 {
		t.Errorf("Flagged = %d, want 1", st.Flagged)
	}
	if st.Refined != 0 || st.Failed != 0 || st.Denied != 0 {
		t.Errorf("stats = %+v, want no refinement activity", st)
	}
	if chunks[0].Status != RefinementNone {
		t.Errorf("Status = %q, want unrefined", chunks[0].Status)
	}
}

func TestProcessor_RefineFlaggedCountsOutcomes(t *testing.T) {
	// First flagged chunk refines cleanly, second fails on a 4xx.
	stub := &stubProvider{results: []stubResult{
		{resp: CompletionResponse{Text: `{"text": "Cleaned first half.", "start_delta": 0, "end_delta": 0}`}},
		{err: &ErrHTTP{Status: 400, Body: "bad request"}},
	}}
	r := NewRefiner(stub, openLimiter(), NewBreaker(5, time.Second), testRefinerConfig())
	p := NewProcessor(halvesSegmenter(), stubRouter(flagAll), r)
	a := Article{ID: "a1", Domain: "a.com", Text: strings.Repeat("lorem ipsum dolor sit amet. ", 4)}

	chunks, st, err := p.Process(context.Background(), a, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := ArticleStats{Chunks: 2, Flagged: 2, Refined: 1, Failed: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
	if chunks[0].Status != RefinementDone {
		t.Errorf("chunk 0 status = %q, want refined", chunks[0].Status)
	}
	if chunks[1].Status != RefinementFailed {
		t.Errorf("chunk 1 status = %q, want refinement_failed", chunks[1].Status)
	}
}

func TestProcessor_ProcessEmptyText(t *testing.T) {
	p := NewProcessor(wholeTextSegmenter(), stubRouter(flagAll), nil)

	chunks, st, err := p.Process(context.Background(), Article{ID: "a1", Text: "   \n\n"}, nil)
	if err != nil {
		t.Fatalf("empty text is not an error: %v", err)
	}
	if len(chunks) != 0 || st.Chunks != 0 {
		t.Errorf("got %d chunks, stats %+v, want none", len(chunks), st)
	}
}
