// Package chunk implements deterministic article segmentation and the
// quality routing that decides which chunks deserve LLM refinement.
// Everything here is pure: no network, no disk, no clocks.
package chunk

import (
	"strings"

	quarry "github.com/quarryhq/quarry"
)

// Config bounds chunk sizes in words and characters.
type Config struct {
	// TargetWords is the preferred chunk size; accumulation stops once an
	// emitted chunk reaches it.
	TargetWords int
	// MinWords / MaxWords bound every chunk except an article's final one,
	// which may fall below MinWords.
	MinWords int
	MaxWords int
	// OverlapWords is shared between consecutive sliding windows when a
	// single paragraph exceeds MaxWords.
	OverlapWords int
	// MinChars is a floor below which a chunk is merged into its neighbor.
	MinChars int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TargetWords:  400,
		MinWords:     200,
		MaxWords:     600,
		OverlapWords: 50,
		MinChars:     100,
	}
}

// Validate rejects inconsistent bounds at startup.
func (c Config) Validate() error {
	if c.MinWords <= 0 || c.TargetWords < c.MinWords || c.MaxWords < c.TargetWords {
		return &quarry.ErrConfig{Field: "chunker", Message: "need 0 < min_words <= target_words <= max_words"}
	}
	if c.OverlapWords < 0 || c.OverlapWords >= c.MaxWords {
		return &quarry.ErrConfig{Field: "chunker.overlap_words", Message: "must be in [0, max_words)"}
	}
	if c.MinChars < 0 {
		return &quarry.ErrConfig{Field: "chunker.min_chars", Message: "must be >= 0"}
	}
	return nil
}

// Chunker splits article text into offset-carrying chunks. Deterministic:
// the same text and config always produce the same chunks.
type Chunker struct {
	cfg Config
}

// New creates a Chunker, validating the config.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// span is a half-open byte range [start, end) into the source text.
type span struct {
	start, end int
}

// ChunkArticle splits an article's text.
func (ck *Chunker) ChunkArticle(a quarry.Article) []quarry.Chunk {
	return ck.Chunk(a.ID, a.Text)
}

// Chunk splits text into ordered chunks. Paragraphs are accumulated toward
// TargetWords without exceeding MaxWords; a paragraph that alone exceeds
// MaxWords goes through a sentence-boundary sliding window with
// OverlapWords shared between consecutive windows. Chunks below MinChars
// are merged with a neighbor. Empty or whitespace-only text yields nil.
func (ck *Chunker) Chunk(articleID, text string) []quarry.Chunk {
	paras := paragraphSpans(text)
	if len(paras) == 0 {
		return nil
	}

	var spans []span
	accStart, accEnd, accWords := -1, 0, 0
	flush := func() {
		if accStart >= 0 {
			spans = append(spans, span{accStart, accEnd})
			accStart, accWords = -1, 0
		}
	}

	for _, p := range paras {
		w := countWords(text[p.start:p.end])
		if w == 0 {
			continue
		}

		// Oversized paragraph: window fallback, never accumulated.
		if w > ck.cfg.MaxWords {
			if accStart >= 0 && accWords < ck.cfg.MinWords {
				// A stranded short prefix would violate the word floor;
				// fold it into the window run instead.
				spans = append(spans, ck.windows(text, span{accStart, p.end})...)
				accStart, accWords = -1, 0
				continue
			}
			flush()
			spans = append(spans, ck.windows(text, p)...)
			continue
		}

		if accStart >= 0 && accWords+w > ck.cfg.MaxWords {
			if accWords < ck.cfg.MinWords {
				spans = append(spans, ck.windows(text, span{accStart, p.end})...)
				accStart, accWords = -1, 0
				continue
			}
			flush()
		}
		if accStart < 0 {
			accStart = p.start
		}
		accEnd = p.end
		accWords += w
		if accWords >= ck.cfg.TargetWords {
			flush()
		}
	}
	flush()

	spans = ck.mergeSmall(text, spans)

	// Extend spans through pure-whitespace gaps so the chunk set covers the
	// trimmed article text without loss.
	for i := 0; i+1 < len(spans); i++ {
		if gap := text[min(spans[i].end, spans[i+1].start):spans[i+1].start]; spans[i+1].start > spans[i].end && strings.TrimSpace(gap) == "" {
			spans[i].end = spans[i+1].start
		}
	}

	chunks := make([]quarry.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = quarry.Chunk{
			ID:        quarry.NewID(),
			ArticleID: articleID,
			Index:     i,
			Text:      text[s.start:s.end],
			Start:     s.start,
			End:       s.end,
			WordCount: countWords(text[s.start:s.end]),
			Status:    quarry.RefinementNone,
		}
	}
	return chunks
}

// windows slides over an oversized span, cutting at sentence boundaries
// when any fall inside the word budget and at hard word limits otherwise.
// Consecutive windows share OverlapWords words. The tail window may fall
// below MinWords only when the span ends the article.
func (ck *Chunker) windows(text string, s span) []span {
	ws := wordSpans(text, s)
	n := len(ws)
	if n == 0 {
		return nil
	}
	if n <= ck.cfg.MaxWords {
		return []span{{ws[0].start, ws[n-1].end}}
	}

	// Sentence starts mapped to word indices.
	starts := sentenceStartWords(text, s, ws)

	var out []span
	i := 0
	for {
		remaining := n - i
		if remaining <= ck.cfg.MaxWords {
			out = append(out, span{ws[i].start, ws[n-1].end})
			return out
		}

		j := ck.cutAt(starts, i)

		// Avoid stranding a sub-minimum tail after this cut when we could
		// rebalance instead.
		if tail := n - (j - ck.cfg.OverlapWords); tail < ck.cfg.MinWords {
			if k := i + (remaining - ck.cfg.MinWords); k > i && k <= i+ck.cfg.MaxWords {
				j = k
			}
		}

		out = append(out, span{ws[i].start, ws[j-1].end})
		next := j - ck.cfg.OverlapWords
		if next <= i {
			next = j
		}
		i = next
	}
}

// cutAt picks the word index ending the window that starts at word i: the
// sentence start closest to i+TargetWords within (i+MinWords, i+MaxWords],
// else the hard cap. A sentence start at or below i+MinWords is never a cut
// point; it would strand a window below the word floor.
func (ck *Chunker) cutAt(starts []int, i int) int {
	lo, hi, target := i+ck.cfg.MinWords, i+ck.cfg.MaxWords, i+ck.cfg.TargetWords
	best, bestDist := -1, 0
	for _, b := range starts {
		if b <= lo {
			continue
		}
		if b > hi {
			break
		}
		d := b - target
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = b, d
		}
	}
	if best > 0 {
		return best
	}
	return hi
}

// mergeSmall folds chunks below MinChars into a neighbor, provided the
// merge does not break the MaxWords cap.
func (ck *Chunker) mergeSmall(text string, spans []span) []span {
	if ck.cfg.MinChars <= 0 || len(spans) < 2 {
		return spans
	}
	out := make([]span, 0, len(spans))
	for _, s := range spans {
		if len(out) > 0 && s.end-s.start < ck.cfg.MinChars {
			prev := &out[len(out)-1]
			if countWords(text[prev.start:s.end]) <= ck.cfg.MaxWords {
				if s.end > prev.end {
					prev.end = s.end
				}
				continue
			}
		}
		out = append(out, s)
	}
	// A short first chunk merges forward.
	if len(out) >= 2 && out[0].end-out[0].start < ck.cfg.MinChars {
		if countWords(text[out[0].start:out[1].end]) <= ck.cfg.MaxWords {
			out[1].start = out[0].start
			out = out[1:]
		}
	}
	return out
}

// paragraphSpans returns trimmed byte ranges of non-empty paragraphs.
// Paragraphs are separated by blank lines; text with no paragraph breaks is
// one paragraph.
func paragraphSpans(text string) []span {
	var out []span
	start := 0
	for start < len(text) {
		sep := strings.Index(text[start:], "\n\n")
		end := len(text)
		next := len(text)
		if sep >= 0 {
			end = start + sep
			next = start + sep + 2
		}
		if s, ok := trimSpan(text, span{start, end}); ok {
			out = append(out, s)
		}
		start = next
	}
	return out
}

// trimSpan shrinks a span to exclude surrounding whitespace.
func trimSpan(text string, s span) (span, bool) {
	for s.start < s.end && isSpace(text[s.start]) {
		s.start++
	}
	for s.end > s.start && isSpace(text[s.end-1]) {
		s.end--
	}
	return s, s.start < s.end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// wordSpans returns the byte range of every whitespace-delimited word
// inside s.
func wordSpans(text string, s span) []span {
	var out []span
	i := s.start
	for i < s.end {
		for i < s.end && isSpace(text[i]) {
			i++
		}
		if i >= s.end {
			break
		}
		j := i
		for j < s.end && !isSpace(text[j]) {
			j++
		}
		out = append(out, span{i, j})
		i = j
	}
	return out
}

// countWords counts whitespace-delimited words.
func countWords(s string) int {
	return len(strings.Fields(s))
}

// sentenceStartWords maps sentence boundaries inside s to indices into ws:
// the index of the first word of each sentence after the first.
func sentenceStartWords(text string, s span, ws []span) []int {
	bounds := sentenceBoundaries(text[s.start:s.end])
	if len(bounds) == 0 {
		return nil
	}
	var out []int
	wi := 0
	for _, b := range bounds {
		abs := s.start + b
		for wi < len(ws) && ws[wi].start < abs {
			wi++
		}
		if wi > 0 && wi < len(ws) {
			out = append(out, wi)
		}
	}
	return out
}
