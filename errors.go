package quarry

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrLLM is a provider-level failure that is not an HTTP transport error:
// malformed responses, marshalling failures, unusable payloads. Never retried.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP carries the status code of a failed provider call so the retry and
// breaker layers can classify it. RetryAfter is parsed from the Retry-After
// header when the provider sent one (429/503 responses).
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Expected control-flow outcomes. These are not failures: a denied chunk
// simply stays unrefined.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrCircuitOpen = errors.New("circuit open")
)

// ErrConfig is a startup configuration error. It is the only error class
// allowed to halt the process.
type ErrConfig struct {
	Field   string
	Message string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ParseRetryAfter parses a Retry-After header value. Supports both
// delta-seconds ("120") and HTTP-date formats. Returns 0 when absent or
// unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
