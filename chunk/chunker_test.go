package chunk

import (
	"strings"
	"testing"
)

// words returns n copies of "lorem" separated by single spaces.
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("lorem ", n))
}

func mustChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	ck, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ck
}

func TestChunk_EmptyText(t *testing.T) {
	ck := mustChunker(t, DefaultConfig())
	if got := ck.Chunk("a1", ""); got != nil {
		t.Errorf("empty text: got %d chunks, want nil", len(got))
	}
	if got := ck.Chunk("a1", "  \n\n \t\n"); got != nil {
		t.Errorf("whitespace text: got %d chunks, want nil", len(got))
	}
}

func TestChunk_AccumulatesParagraphsTowardTarget(t *testing.T) {
	// Three 150-word paragraphs accumulate to one ~450-word chunk.
	text := words(150) + "\n\n" + words(150) + "\n\n" + words(150)
	ck := mustChunker(t, DefaultConfig())

	chunks := ck.Chunk("a1", text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].WordCount != 450 {
		t.Errorf("WordCount = %d, want 450", chunks[0].WordCount)
	}
	if chunks[0].Start != 0 || chunks[0].End != len(text) {
		t.Errorf("offsets = [%d, %d), want [0, %d)", chunks[0].Start, chunks[0].End, len(text))
	}
}

func TestChunk_NoPunctuationFallsBackToHardWindows(t *testing.T) {
	// 2000 words with no sentence boundaries: sliding windows cut at the
	// hard word cap with overlap between consecutive windows.
	text := words(2000)
	cfg := DefaultConfig()
	ck := mustChunker(t, cfg)

	chunks := ck.Chunk("a1", text)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want >= 4", len(chunks))
	}
	for i, c := range chunks {
		if c.WordCount > cfg.MaxWords {
			t.Errorf("chunk %d: WordCount = %d exceeds max %d", i, c.WordCount, cfg.MaxWords)
		}
		if c.WordCount < cfg.MinWords {
			t.Errorf("chunk %d: WordCount = %d below min %d", i, c.WordCount, cfg.MinWords)
		}
	}
	// Consecutive windows overlap.
	for i := 0; i+1 < len(chunks); i++ {
		if chunks[i+1].Start >= chunks[i].End {
			t.Errorf("windows %d and %d do not overlap: [%d,%d) then [%d,%d)",
				i, i+1, chunks[i].Start, chunks[i].End, chunks[i+1].Start, chunks[i+1].End)
		}
	}
	// Full coverage: first window starts at 0, last ends at the text end.
	if chunks[0].Start != 0 || chunks[len(chunks)-1].End != len(text) {
		t.Errorf("coverage = [%d, %d), want [0, %d)",
			chunks[0].Start, chunks[len(chunks)-1].End, len(text))
	}
}

func TestChunk_OversizedParagraphCutsAtSentences(t *testing.T) {
	// 100 nine-word sentences in one paragraph: 900 words, over the cap.
	// The first cut lands on the sentence start nearest 400 words (396).
	text := strings.TrimSpace(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100))
	ck := mustChunker(t, DefaultConfig())

	chunks := ck.Chunk("a1", text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].WordCount != 396 {
		t.Errorf("first window WordCount = %d, want 396 (sentence start nearest target)", chunks[0].WordCount)
	}
	if !strings.HasSuffix(chunks[0].Text, "dog.") {
		t.Errorf("first window should end at a sentence: %q", chunks[0].Text[len(chunks[0].Text)-20:])
	}
	if chunks[1].End != len(text) {
		t.Errorf("last window End = %d, want %d", chunks[1].End, len(text))
	}
}

func TestChunk_TinyTrailingParagraphMerged(t *testing.T) {
	// A paragraph below MinChars folds into the previous chunk.
	text := words(450) + "\n\ntiny trailer"
	ck := mustChunker(t, DefaultConfig())

	chunks := ck.Chunk("a1", text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 after merge", len(chunks))
	}
	if chunks[0].End != len(text) {
		t.Errorf("End = %d, want %d (merged chunk covers trailer)", chunks[0].End, len(text))
	}
	if !strings.HasSuffix(chunks[0].Text, "tiny trailer") {
		t.Errorf("merged text should end with the trailer")
	}
}

func TestChunk_OffsetsSliceSourceText(t *testing.T) {
	text := words(300) + "\n\n" + words(350) + "\n\n" + words(250) + "\n\n" + words(200)
	ck := mustChunker(t, DefaultConfig())

	chunks := ck.Chunk("a1", text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for i, c := range chunks {
		if got := text[c.Start:c.End]; got != c.Text {
			t.Errorf("chunk %d: Text does not match text[Start:End]", i)
		}
		if c.Index != i {
			t.Errorf("chunk %d: Index = %d", i, c.Index)
		}
		if c.ArticleID != "a1" {
			t.Errorf("chunk %d: ArticleID = %q", i, c.ArticleID)
		}
		if c.Status != "unrefined" {
			t.Errorf("chunk %d: Status = %q", i, c.Status)
		}
	}
	// Paragraph chunks are contiguous: whitespace gaps are absorbed so the
	// chunk set reconstructs the article without loss.
	for i := 0; i+1 < len(chunks); i++ {
		if chunks[i].End != chunks[i+1].Start {
			t.Errorf("gap between chunks %d and %d: %d != %d", i, i+1, chunks[i].End, chunks[i+1].Start)
		}
	}
	if chunks[0].Start != 0 || chunks[len(chunks)-1].End != len(text) {
		t.Errorf("chunks do not cover the text")
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := words(250) + "\n\n" + strings.Repeat("A short sentence here. ", 120) + "\n\n" + words(220)
	ck := mustChunker(t, DefaultConfig())

	a := ck.Chunk("a1", text)
	b := ck.Chunk("a1", text)
	if len(a) != len(b) {
		t.Fatalf("runs differ in chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Start != b[i].Start || a[i].End != b[i].End || a[i].Text != b[i].Text {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestChunk_ShortPrefixNeverStranded(t *testing.T) {
	// A 50-word paragraph followed by an oversized one must not leave a
	// chunk below MinWords in the middle of the article.
	text := words(50) + "\n\n" + words(900)
	cfg := DefaultConfig()
	ck := mustChunker(t, cfg)

	chunks := ck.Chunk("a1", text)
	for i, c := range chunks {
		if i < len(chunks)-1 && c.WordCount < cfg.MinWords {
			t.Errorf("chunk %d: WordCount = %d below min %d (only the final chunk may be short)",
				i, c.WordCount, cfg.MinWords)
		}
		if c.WordCount > cfg.MaxWords {
			t.Errorf("chunk %d: WordCount = %d above max %d", i, c.WordCount, cfg.MaxWords)
		}
	}
}

func TestChunk_SparseSentencesNeverStrandShortWindow(t *testing.T) {
	// A short opening sentence followed by a long unpunctuated run: the early
	// sentence start must not become a cut point, or a tiny mid-article
	// window would fall below the word floor.
	text := "Short intro sentence here. " + strings.TrimSpace(strings.Repeat("Word ", 1500))
	cfg := DefaultConfig()
	ck := mustChunker(t, cfg)

	chunks := ck.Chunk("a1", text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several windows", len(chunks))
	}
	for i, c := range chunks {
		if c.WordCount > cfg.MaxWords {
			t.Errorf("chunk %d: WordCount = %d above max %d", i, c.WordCount, cfg.MaxWords)
		}
		if c.WordCount < cfg.MinWords {
			t.Errorf("chunk %d: WordCount = %d below min %d", i, c.WordCount, cfg.MinWords)
		}
	}
	// No usable sentence boundary in range, so the first window cuts at the
	// hard cap rather than at the nearby sentence start.
	if chunks[0].WordCount != cfg.MaxWords {
		t.Errorf("first window WordCount = %d, want hard cap %d", chunks[0].WordCount, cfg.MaxWords)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", DefaultConfig(), true},
		{"min above target", Config{TargetWords: 100, MinWords: 200, MaxWords: 300, MinChars: 10}, false},
		{"max below target", Config{TargetWords: 400, MinWords: 200, MaxWords: 300, MinChars: 10}, false},
		{"zero min", Config{TargetWords: 400, MinWords: 0, MaxWords: 600}, false},
		{"overlap at max", Config{TargetWords: 400, MinWords: 200, MaxWords: 600, OverlapWords: 600}, false},
		{"negative min chars", Config{TargetWords: 400, MinWords: 200, MaxWords: 600, MinChars: -1}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
