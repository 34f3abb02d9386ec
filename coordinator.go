package quarry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

// CoordinatorConfig tunes batch scheduling and concurrency.
type CoordinatorConfig struct {
	// BatchSize is how many articles form one batch; a job's article list is
	// split into batches of this size.
	BatchSize int
	// MaxConcurrentBatches bounds batches in flight at once.
	MaxConcurrentBatches int
	// Workers sizes the article worker pool shared by all batches.
	Workers int
	// MaxInFlight is the article ceiling used by the backpressure gate.
	MaxInFlight int
	// BackpressureThreshold is the fraction of MaxInFlight at which batch
	// admission blocks until in-flight work drains (0 < t <= 1).
	BackpressureThreshold float64
	// RetryFailedArticles re-runs articles that failed within a batch.
	RetryFailedArticles bool
	// MaxRetries bounds re-runs per failed article.
	MaxRetries int
}

// DefaultCoordinatorConfig returns production defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BatchSize:             16,
		MaxConcurrentBatches:  4,
		Workers:               8,
		MaxInFlight:           128,
		BackpressureThreshold: 0.8,
		RetryFailedArticles:   true,
		MaxRetries:            2,
	}
}

// Validate rejects inconsistent scheduling parameters at startup.
func (c CoordinatorConfig) Validate() error {
	if c.BatchSize <= 0 {
		return &ErrConfig{Field: "coordinator.batch_size", Message: "must be > 0"}
	}
	if c.MaxConcurrentBatches <= 0 {
		return &ErrConfig{Field: "coordinator.max_concurrent_batches", Message: "must be > 0"}
	}
	if c.Workers <= 0 {
		return &ErrConfig{Field: "coordinator.workers", Message: "must be > 0"}
	}
	if c.MaxInFlight <= 0 {
		return &ErrConfig{Field: "coordinator.max_in_flight", Message: "must be > 0"}
	}
	if c.BackpressureThreshold <= 0 || c.BackpressureThreshold > 1 {
		return &ErrConfig{Field: "coordinator.backpressure_threshold", Message: "must be in (0, 1]"}
	}
	if c.MaxRetries < 0 {
		return &ErrConfig{Field: "coordinator.max_retries", Message: "must be >= 0"}
	}
	return nil
}

// jobEntry is the coordinator's mutable record of a submitted job.
type jobEntry struct {
	job       BatchJob
	cancel    context.CancelFunc // set while running
	cancelled bool
}

// Coordinator schedules batch jobs by priority and runs their articles
// through the processor with bounded concurrency. One dispatcher loop (Run)
// executes jobs strictly one at a time; within a job, batches and articles
// fan out across the worker pool.
type Coordinator struct {
	store  Store
	proc   *Processor
	logger *slog.Logger

	// limiter and breaker are only read for the Stats surface; the refiner
	// inside proc holds the enforcing references.
	limiter *Limiter
	breaker *Breaker

	cfg atomic.Pointer[CoordinatorConfig]

	pool *ants.Pool
	// gate blocks new batch admission once in-flight articles reach
	// threshold * MaxInFlight. Sized at construction; UpdateConfig does not
	// resize it.
	gate     *semaphore.Weighted
	inFlight atomic.Int64

	mu     sync.Mutex
	jobs   map[string]*jobEntry
	queues [4][]string // FIFO per priority, indexed by Priority
	wake   chan struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets a structured logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator wires the batch scheduler. store may be nil when chunks are
// consumed directly from ProcessBatch results.
func NewCoordinator(store Store, proc *Processor, limiter *Limiter, breaker *Breaker, cfg CoordinatorConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	gateCap := int64(cfg.BackpressureThreshold * float64(cfg.MaxInFlight))
	if gateCap < 1 {
		gateCap = 1
	}
	c := &Coordinator{
		store:   store,
		proc:    proc,
		limiter: limiter,
		breaker: breaker,
		logger:  nopLogger,
		pool:    pool,
		gate:    semaphore.NewWeighted(gateCap),
		jobs:    make(map[string]*jobEntry),
		wake:    make(chan struct{}, 1),
	}
	c.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UpdateConfig swaps scheduling parameters. Takes effect for batches started
// after the swap; running batches keep the snapshot they started with.
func (c *Coordinator) UpdateConfig(cfg CoordinatorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg.Store(&cfg)
	return nil
}

// Close releases the worker pool. Call after Run has returned.
func (c *Coordinator) Close() {
	c.pool.Release()
}

// Submit enqueues a job and returns its id. The job runs when a dispatcher
// started with Run picks it up.
func (c *Coordinator) Submit(articleIDs []string, priority Priority) (string, error) {
	if len(articleIDs) == 0 {
		return "", fmt.Errorf("submit job: no article ids")
	}
	if priority < PriorityLow || priority > PriorityUrgent {
		return "", fmt.Errorf("submit job: invalid priority %d", priority)
	}
	ids := make([]string, len(articleIDs))
	copy(ids, articleIDs)

	id := NewID()
	c.mu.Lock()
	c.jobs[id] = &jobEntry{job: BatchJob{
		ID:          id,
		ArticleIDs:  ids,
		Priority:    priority,
		Status:      JobQueued,
		SubmittedAt: NowUnix(),
	}}
	c.queues[priority] = append(c.queues[priority], id)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.logger.Info("job submitted", "job_id", id,
		"articles", len(ids), "priority", priority.String())
	return id, nil
}

// Status returns a snapshot of a job. The returned value is a copy; mutating
// it does not affect the coordinator.
func (c *Coordinator) Status(jobID string) (BatchJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return BatchJob{}, fmt.Errorf("job %s: not found", jobID)
	}
	job := e.job
	job.ArticleIDs = append([]string(nil), e.job.ArticleIDs...)
	if e.job.Result != nil {
		r := *e.job.Result
		r.Errors = append([]ArticleError(nil), e.job.Result.Errors...)
		job.Result = &r
	}
	return job, nil
}

// Cancel marks a job cancelled. A queued job never runs. A running job stops
// admitting new batches; articles already in flight finish and their results
// are attached to the cancelled job.
func (c *Coordinator) Cancel(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: not found", jobID)
	}
	switch e.job.Status {
	case JobQueued:
		e.cancelled = true
		e.job.Status = JobCancelled
	case JobRunning:
		e.cancelled = true
		if e.cancel != nil {
			e.cancel()
		}
	default:
		return fmt.Errorf("job %s: already %s", jobID, e.job.Status)
	}
	c.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Run is the dispatcher loop: it pops the highest-priority queued job, runs
// it to completion, and repeats until ctx is cancelled. Jobs never run
// concurrently with each other; concurrency lives inside a job.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		id := c.nextJob()
		if id == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wake:
			}
			continue
		}
		c.runJob(ctx, id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// nextJob pops the first queued job in priority order, skipping entries
// cancelled while queued.
func (c *Coordinator) nextJob() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := PriorityUrgent; p >= PriorityLow; p-- {
		q := c.queues[p]
		for len(q) > 0 {
			id := q[0]
			q = q[1:]
			if e, ok := c.jobs[id]; ok && e.job.Status == JobQueued {
				c.queues[p] = q
				return id
			}
		}
		c.queues[p] = q
	}
	return ""
}

// runJob loads the job's articles and processes them. Load failure or an
// empty article set fails the whole job; per-article failures inside a batch
// only mark that article in the result.
func (c *Coordinator) runJob(ctx context.Context, id string) {
	c.mu.Lock()
	e, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	admCtx, cancel := context.WithCancel(ctx)
	e.job.Status = JobRunning
	e.cancel = cancel
	ids := e.job.ArticleIDs
	c.mu.Unlock()
	defer cancel()

	finish := func(status JobStatus, res *BatchResult, err error) {
		c.mu.Lock()
		if e.cancelled {
			status = JobCancelled
		}
		e.job.Status = status
		e.job.Result = res
		if err != nil {
			e.job.Err = err.Error()
		}
		e.cancel = nil
		c.mu.Unlock()
		c.logger.Info("job finished", "job_id", id, "status", string(status))
	}

	if c.store == nil {
		finish(JobFailed, nil, fmt.Errorf("no store configured"))
		return
	}
	arts, err := c.store.LoadArticles(ctx, ids)
	if err != nil {
		finish(JobFailed, nil, fmt.Errorf("load articles: %w", err))
		return
	}
	if len(arts) == 0 {
		finish(JobFailed, nil, fmt.Errorf("no articles found for %d ids", len(ids)))
		return
	}

	res := c.processArticles(ctx, admCtx, arts)
	finish(JobCompleted, &res, nil)
}

// ProcessBatch runs already-loaded articles through the pipeline without the
// job queue, for callers that manage their own scheduling.
func (c *Coordinator) ProcessBatch(ctx context.Context, articles []Article) (BatchResult, error) {
	if len(articles) == 0 {
		return BatchResult{}, fmt.Errorf("process batch: no articles")
	}
	return c.processArticles(ctx, ctx, articles), nil
}

// processArticles splits articles into batches and fans them out. admCtx
// gates admission of new batches only: cancelling it stops new work while
// batches already admitted drain under ctx.
func (c *Coordinator) processArticles(ctx, admCtx context.Context, arts []Article) BatchResult {
	cfg := c.cfg.Load()
	start := time.Now()
	col := &resultCollector{}

	var wg sync.WaitGroup
	batchSem := make(chan struct{}, cfg.MaxConcurrentBatches)
admit:
	for lo := 0; lo < len(arts); lo += cfg.BatchSize {
		hi := lo + cfg.BatchSize
		if hi > len(arts) {
			hi = len(arts)
		}
		batch := arts[lo:hi]

		if err := c.gate.Acquire(admCtx, int64(len(batch))); err != nil {
			break
		}
		select {
		case batchSem <- struct{}{}:
		case <-admCtx.Done():
			c.gate.Release(int64(len(batch)))
			break admit
		}

		wg.Add(1)
		c.inFlight.Add(int64(len(batch)))
		go func(b []Article) {
			defer func() {
				c.inFlight.Add(-int64(len(b)))
				c.gate.Release(int64(len(b)))
				<-batchSem
				wg.Done()
			}()
			c.runBatch(ctx, admCtx, b, col, cfg)
		}(batch)
	}
	wg.Wait()

	res := col.snapshot()
	res.Elapsed = time.Since(start)
	return res
}

// segItem carries one article's state across the two batch phases.
type segItem struct {
	art    Article
	chunks []Chunk
	decs   []RoutingDecision
	err    error
}

// runBatch processes one batch in two phases. Phase one segments and routes
// every article so the batch's total chunk count is known before any LLM
// call; phase two creates the batch budget from that total, then refines and
// persists per article. A cancelled admission context stops refinement from
// starting for articles that have not begun it; segmentation still persists.
func (c *Coordinator) runBatch(ctx, admCtx context.Context, batch []Article, col *resultCollector, cfg *CoordinatorConfig) {
	items := make([]segItem, len(batch))
	c.each(len(batch), func(i int) {
		items[i].art = batch[i]
		items[i].chunks, items[i].decs, items[i].err = c.proc.Segment(batch[i])
	})

	total := 0
	for i := range items {
		if items[i].err == nil {
			total += len(items[i].chunks)
		}
	}
	var budget *BatchBudget
	if c.limiter != nil {
		budget = c.limiter.NewBatch(total)
	}

	c.each(len(batch), func(i int) {
		c.finishArticle(ctx, admCtx, &items[i], budget, col, cfg)
	})
}

// finishArticle refines and persists one article, retrying segmentation and
// persistence failures up to MaxRetries. Refinement denials and failures
// degrade the chunks, never the article. Once admCtx is cancelled, articles
// that have not started refinement skip it and persist base chunks.
func (c *Coordinator) finishArticle(ctx, admCtx context.Context, it *segItem, budget *BatchBudget, col *resultCollector, cfg *CoordinatorConfig) {
	attempts := 1
	if cfg.RetryFailedArticles {
		attempts += cfg.MaxRetries
	}

	var (
		st      ArticleStats
		refined bool
		lastErr error
	)
	for i := 0; i < attempts; i++ {
		if it.err != nil {
			it.chunks, it.decs, it.err = c.proc.Segment(it.art)
			if it.err != nil {
				lastErr = it.err
				continue
			}
		}
		if !refined {
			if admCtx.Err() == nil {
				st = c.proc.RefineFlagged(ctx, it.art, it.chunks, it.decs, budget)
			} else {
				st = ArticleStats{Chunks: len(it.chunks)}
			}
			refined = true
		}
		if c.store != nil {
			if err := c.store.PersistChunks(ctx, it.art.ID, it.chunks); err != nil {
				lastErr = err
				if ctx.Err() != nil {
					break
				}
				continue
			}
		}
		col.addArticle(st)
		return
	}

	c.logger.Warn("article failed", "article_id", it.art.ID, "err", lastErr)
	col.addError(it.art.ID, lastErr)
}

// each runs fn(0..n-1) on the worker pool and waits for all of them. When
// the pool refuses a task (released or saturated beyond its queue), the task
// runs inline so work is never dropped.
func (c *Coordinator) each(n int, fn func(int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			fn(i)
		}
		if err := c.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// resultCollector accumulates a BatchResult across concurrent workers.
type resultCollector struct {
	mu  sync.Mutex
	res BatchResult
}

func (rc *resultCollector) addArticle(st ArticleStats) {
	rc.mu.Lock()
	rc.res.ArticlesProcessed++
	rc.res.ChunksCreated += st.Chunks
	rc.res.ChunksRefined += st.Refined
	rc.res.RefinementsDenied += st.Denied
	rc.res.RefinementsFailed += st.Failed
	rc.mu.Unlock()
}

func (rc *resultCollector) addError(articleID string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	rc.mu.Lock()
	rc.res.ArticlesFailed++
	rc.res.Errors = append(rc.res.Errors, ArticleError{ArticleID: articleID, Err: msg})
	rc.mu.Unlock()
}

func (rc *resultCollector) snapshot() BatchResult {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.res
}

// Stats is the coordinator's live status surface.
type Stats struct {
	JobsQueued   int             `json:"jobs_queued"`
	JobsRunning  int             `json:"jobs_running"`
	InFlight     int64           `json:"articles_in_flight"`
	Breaker      BreakerState    `json:"breaker_state"`
	BreakerFails int             `json:"breaker_failures"`
	Limiter      LimiterSnapshot `json:"limiter"`
}

// Stats returns a point-in-time snapshot for monitoring.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	queued, running := 0, 0
	for _, e := range c.jobs {
		switch e.job.Status {
		case JobQueued:
			queued++
		case JobRunning:
			running++
		}
	}
	c.mu.Unlock()

	s := Stats{
		JobsQueued:  queued,
		JobsRunning: running,
		InFlight:    c.inFlight.Load(),
	}
	if c.breaker != nil {
		s.Breaker = c.breaker.State()
		s.BreakerFails = c.breaker.Failures()
	}
	if c.limiter != nil {
		s.Limiter = c.limiter.Snapshot()
	}
	return s
}
