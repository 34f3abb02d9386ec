package quarry

import "time"

// --- Domain types ---

// Article is an immutable input document. The pipeline never mutates an
// Article; chunks reference it by ID and byte offsets into Text.
type Article struct {
	ID        string            `json:"id"`
	Domain    string            `json:"domain"` // source site, e.g. "arxiv.org"
	Language  string            `json:"language,omitempty"`
	Title     string            `json:"title,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// RefinementStatus tracks whether a chunk went through LLM refinement.
type RefinementStatus string

const (
	// RefinementNone means the chunk was either never routed to the LLM or
	// was denied by the rate limiter / circuit breaker. Not a failure.
	RefinementNone RefinementStatus = "unrefined"
	// RefinementDone means the LLM call succeeded and its output was applied.
	RefinementDone RefinementStatus = "refined"
	// RefinementFailed means the LLM call was attempted and failed after retries.
	RefinementFailed RefinementStatus = "refinement_failed"
)

// QualityScore is the router's per-factor breakdown for a chunk.
// Each factor is in [0, 1]; higher means more confidence in the chunk as cut.
type QualityScore struct {
	Boundary   float64 `json:"boundary"`
	Size       float64 `json:"size"`
	Complexity float64 `json:"complexity"`
	Combined   float64 `json:"combined"`
}

// Chunk is a bounded-size contiguous span of an article's text, the unit of
// downstream retrieval. Start/End are byte offsets into Article.Text. After
// refinement, Text may differ from the original span while Start/End still
// mark where the chunk was cut.
type Chunk struct {
	ID        string           `json:"id"`
	ArticleID string           `json:"article_id"`
	Index     int              `json:"chunk_index"`
	Text      string           `json:"text"`
	Start     int              `json:"start_offset"`
	End       int              `json:"end_offset"`
	WordCount int              `json:"word_count"`
	Score     QualityScore     `json:"score"`
	Status    RefinementStatus `json:"status"`
}

// RoutingDecision is the router's verdict on one chunk. Ephemeral: produced
// and consumed within a single article's processing.
type RoutingDecision struct {
	ChunkID    string
	NeedsLLM   bool
	Confidence float64
	Factors    QualityScore
}

// --- Batch job model ---

// Priority orders jobs in the coordinator queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ArticleError records a per-article failure inside an otherwise
// successful batch. Err is a string so snapshots stay serializable.
type ArticleError struct {
	ArticleID string `json:"article_id"`
	Err       string `json:"error"`
}

// BatchResult is the immutable outcome of one batch/job run. A caller
// inspecting only the counts will not notice partial failures — check
// len(Errors).
type BatchResult struct {
	ArticlesProcessed int            `json:"articles_processed"`
	ArticlesFailed    int            `json:"articles_failed"`
	ChunksCreated     int            `json:"chunks_created"`
	ChunksRefined     int            `json:"chunks_refined"`
	RefinementsDenied int            `json:"refinements_denied"`
	RefinementsFailed int            `json:"refinements_failed"`
	Elapsed           time.Duration  `json:"elapsed"`
	Errors            []ArticleError `json:"errors,omitempty"`
}

// BatchJob is a submitted unit of work: a list of article ids processed as
// one or more batches. Mutated only by the coordinator; retained until the
// caller reads its terminal status.
type BatchJob struct {
	ID          string       `json:"id"`
	ArticleIDs  []string     `json:"article_ids"`
	Priority    Priority     `json:"priority"`
	Status      JobStatus    `json:"status"`
	Retries     int          `json:"retries"`
	SubmittedAt int64        `json:"submitted_at"`
	Result      *BatchResult `json:"result,omitempty"`
	Err         string       `json:"error,omitempty"`
}
