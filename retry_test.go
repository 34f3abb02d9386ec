package quarry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&ErrHTTP{Status: 429}, true},
		{&ErrHTTP{Status: 500}, true},
		{&ErrHTTP{Status: 503}, true},
		{&ErrHTTP{Status: 408}, true},
		{&ErrHTTP{Status: 400}, false},
		{&ErrHTTP{Status: 401}, false},
		{&ErrHTTP{Status: 404}, false},
		{&ErrLLM{Provider: "stub", Message: "bad json"}, false},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{fmt.Errorf("wrap: %w", &ErrHTTP{Status: 502}), true},
		{errors.New("opaque"), false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.want {
			t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryBackoff_CappedAndGrowing(t *testing.T) {
	base, max := time.Second, 30*time.Second
	for i := 0; i < 10; i++ {
		d := retryBackoff(base, max, i)
		exp := base << i
		if exp <= 0 || exp > max {
			exp = max
		}
		if d < exp || d > exp+exp/2+1 {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", i, d, exp, exp+exp/2)
		}
	}
}

func TestRetryDelay_RetryAfterIsFloor(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: 10 * time.Second}
	// Attempt 0 backoff tops out at 1.5s, well under the server's ask.
	if d := retryDelay(time.Second, 30*time.Second, 0, err); d != 10*time.Second {
		t.Errorf("delay = %v, want Retry-After floor of 10s", d)
	}
	// When backoff exceeds Retry-After, backoff wins.
	err = &ErrHTTP{Status: 429, RetryAfter: time.Millisecond}
	if d := retryDelay(time.Second, 30*time.Second, 0, err); d < time.Second {
		t.Errorf("delay = %v, want >= 1s", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("120"); d != 2*time.Minute {
		t.Errorf("delta-seconds: %v, want 2m", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty: %v, want 0", d)
	}
	if d := ParseRetryAfter("garbage"); d != 0 {
		t.Errorf("garbage: %v, want 0", d)
	}
	if d := ParseRetryAfter("-5"); d != 0 {
		t.Errorf("negative: %v, want 0", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(time.RFC1123)
	if d := ParseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Errorf("http-date: %v, want (0, 1m]", d)
	}
}

func TestSleepCtx_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short sleep failed: %v", err)
	}
}
