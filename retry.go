package quarry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// isTransient reports whether err warrants a retry: provider throttling or
// server-side failures (408, 429, 5xx), call timeouts, and network timeouts.
// Everything else (auth errors, malformed requests, unusable responses) is
// fatal and must not be retried.
func isTransient(err error) bool {
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.Status == 408 || he.Status == 429 || he.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.RetryAfter
	}
	return 0
}

// retryDelay computes the sleep before retry attempt i (0-indexed):
// min(base·2^i, max) plus up to 50% jitter, with the server's Retry-After
// value (if present) as a floor.
func retryDelay(base, max time.Duration, i int, err error) time.Duration {
	d := retryBackoff(base, max, i)
	if ra := retryAfterOf(err); ra > d {
		return ra
	}
	return d
}

// retryBackoff returns capped exponential backoff with jitter.
func retryBackoff(base, max time.Duration, i int) time.Duration {
	exp := base << i
	if exp <= 0 || exp > max {
		exp = max
	}
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
