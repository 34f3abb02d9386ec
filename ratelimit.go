package quarry

import (
	"fmt"
	"sync"
	"time"
)

// LimiterConfig bounds external LLM calls along several independent axes.
// A zero value on any axis disables that axis.
type LimiterConfig struct {
	// CallsPerMinute is the global ceiling across all domains.
	CallsPerMinute int
	// CallsPerDomainPerMinute caps calls attributed to a single source domain
	// within the same sliding minute window.
	CallsPerDomainPerMinute int
	// CallsPerBatch caps refinement calls within one batch.
	CallsPerBatch int
	// MaxLLMFraction caps the share of a batch's total chunks that may be
	// refined (0 < f <= 1). Excess low-confidence chunks stay unrefined.
	MaxLLMFraction float64
	// DailyCostLimit is the cumulative cost ceiling in USD, reset at
	// midnight UTC.
	DailyCostLimit float64
	// CostPerCall is the fixed per-call estimate used for admission when the
	// actual usage is not yet known.
	CostPerCall float64
}

// Validate rejects out-of-range axis values at startup.
func (c LimiterConfig) Validate() error {
	if c.CallsPerMinute < 0 || c.CallsPerDomainPerMinute < 0 || c.CallsPerBatch < 0 {
		return &ErrConfig{Field: "limiter", Message: "call ceilings must be >= 0"}
	}
	if c.MaxLLMFraction < 0 || c.MaxLLMFraction > 1 {
		return &ErrConfig{Field: "limiter.max_llm_fraction", Message: "must be in [0, 1]"}
	}
	if c.DailyCostLimit < 0 || c.CostPerCall < 0 {
		return &ErrConfig{Field: "limiter", Message: "cost values must be >= 0"}
	}
	return nil
}

// DenyReason names the axis that refused admission.
type DenyReason string

const (
	DenyMinuteCeiling DenyReason = "calls_per_minute"
	DenyDomainCeiling DenyReason = "calls_per_domain"
	DenyBatchCeiling  DenyReason = "calls_per_batch"
	DenyBatchFraction DenyReason = "llm_fraction_per_batch"
	DenyDailyCost     DenyReason = "daily_cost"
)

// DeniedError wraps ErrRateLimited with the failing axis so callers can
// report which budget was exhausted.
type DeniedError struct {
	Reason DenyReason
}

func (e *DeniedError) Error() string { return fmt.Sprintf("rate limited: %s", e.Reason) }
func (e *DeniedError) Unwrap() error { return ErrRateLimited }

// Limiter enforces all axes with a single mutex so concurrent callers see a
// consistent view of every counter. Admission is non-blocking: a denied
// caller gets an error immediately and must not wait.
//
// Admit reserves a slot in the minute windows; Record only adds cost. This
// means one admission covers one refinement operation including its bounded
// retries.
type Limiter struct {
	cfg   LimiterConfig
	clock Clock

	mu        sync.Mutex
	window    []time.Time            // global sliding minute window
	domains   map[string][]time.Time // per-domain sliding minute windows
	day       time.Time              // start of the current UTC day
	costToday float64
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterClock injects a Clock (deterministic tests).
func WithLimiterClock(c Clock) LimiterOption {
	return func(l *Limiter) { l.clock = c }
}

// NewLimiter creates a Limiter. Call cfg.Validate() before handing the
// config over; NewLimiter assumes it is sane.
func NewLimiter(cfg LimiterConfig, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clock:   SystemClock,
		domains: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.day = utcDayStart(l.clock.Now())
	return l
}

// BatchBudget tracks one batch's refinement allowance. Concurrent batches
// each get their own budget so they cannot consume each other's share.
type BatchBudget struct {
	mu        sync.Mutex
	calls     int
	maxCalls  int // -1 = unlimited
	allowance int // -1 = unlimited; derived from MaxLLMFraction * totalChunks
}

// NewBatch creates the budget for a batch of totalChunks candidate chunks.
func (l *Limiter) NewBatch(totalChunks int) *BatchBudget {
	b := &BatchBudget{maxCalls: -1, allowance: -1}
	if l.cfg.CallsPerBatch > 0 {
		b.maxCalls = l.cfg.CallsPerBatch
	}
	if l.cfg.MaxLLMFraction > 0 {
		b.allowance = int(l.cfg.MaxLLMFraction * float64(totalChunks))
	}
	return b
}

// tryAcquire reserves one call against the batch budget.
func (b *BatchBudget) tryAcquire() (DenyReason, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxCalls >= 0 && b.calls >= b.maxCalls {
		return DenyBatchCeiling, false
	}
	if b.allowance >= 0 && b.calls >= b.allowance {
		return DenyBatchFraction, false
	}
	b.calls++
	return "", true
}

// release returns a reserved call, used when a later axis denies admission.
func (b *BatchBudget) release() {
	b.mu.Lock()
	if b.calls > 0 {
		b.calls--
	}
	b.mu.Unlock()
}

// Calls reports how many calls the batch has admitted so far.
func (b *BatchBudget) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Admit checks every axis and reserves a slot when all pass. budget may be
// nil for callers operating outside a batch. Returns nil or a *DeniedError
// wrapping ErrRateLimited; it never blocks.
func (l *Limiter) Admit(domain string, budget *BatchBudget) error {
	if budget != nil {
		if reason, ok := budget.tryAcquire(); !ok {
			return &DeniedError{Reason: reason}
		}
	}

	l.mu.Lock()
	now := l.clock.Now()
	cutoff := now.Add(-time.Minute)
	l.window = pruneTimes(l.window, cutoff)
	dw := pruneTimes(l.domains[domain], cutoff)
	l.domains[domain] = dw
	l.rollDayLocked(now)

	var reason DenyReason
	switch {
	case l.cfg.CallsPerMinute > 0 && len(l.window) >= l.cfg.CallsPerMinute:
		reason = DenyMinuteCeiling
	case l.cfg.CallsPerDomainPerMinute > 0 && len(dw) >= l.cfg.CallsPerDomainPerMinute:
		reason = DenyDomainCeiling
	case l.cfg.DailyCostLimit > 0 && l.costToday+l.cfg.CostPerCall > l.cfg.DailyCostLimit:
		reason = DenyDailyCost
	}
	if reason != "" {
		l.mu.Unlock()
		if budget != nil {
			budget.release()
		}
		return &DeniedError{Reason: reason}
	}

	// Reserve the slot under the same lock that checked it.
	l.window = append(l.window, now)
	l.domains[domain] = append(dw, now)
	l.mu.Unlock()
	return nil
}

// releaseAdmit returns the newest minute-window slot reserved by Admit, for
// callers that abandon the operation before any provider call is made.
func (l *Limiter) releaseAdmit(domain string) {
	l.mu.Lock()
	if n := len(l.window); n > 0 {
		l.window = l.window[:n-1]
	}
	if dw := l.domains[domain]; len(dw) > 0 {
		l.domains[domain] = dw[:len(dw)-1]
	}
	l.mu.Unlock()
}

// Record adds the completed call's cost (actual or estimated) to the daily
// counter. Call it after every completed call, success or failure; the
// minute-window slot was already reserved by Admit.
func (l *Limiter) Record(domain string, cost float64) {
	l.mu.Lock()
	l.rollDayLocked(l.clock.Now())
	l.costToday += cost
	l.mu.Unlock()
}

// LimiterSnapshot is a read-only view for the status surface.
type LimiterSnapshot struct {
	CallsLastMinute int            `json:"calls_last_minute"`
	CallsPerDomain  map[string]int `json:"calls_per_domain"`
	CostToday       float64        `json:"cost_today"`
}

// Snapshot returns current counter values. Windows are pruned first so the
// numbers reflect the live minute.
func (l *Limiter) Snapshot() LimiterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	cutoff := now.Add(-time.Minute)
	l.window = pruneTimes(l.window, cutoff)
	perDomain := make(map[string]int, len(l.domains))
	for d, w := range l.domains {
		w = pruneTimes(w, cutoff)
		l.domains[d] = w
		if len(w) > 0 {
			perDomain[d] = len(w)
		}
	}
	l.rollDayLocked(now)
	return LimiterSnapshot{
		CallsLastMinute: len(l.window),
		CallsPerDomain:  perDomain,
		CostToday:       l.costToday,
	}
}

// rollDayLocked resets the daily cost counter on UTC day rollover.
// Caller holds l.mu.
func (l *Limiter) rollDayLocked(now time.Time) {
	if day := utcDayStart(now); day.After(l.day) {
		l.day = day
		l.costToday = 0
	}
}

func utcDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// pruneTimes removes entries older than cutoff from a sorted time slice.
func pruneTimes(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}
