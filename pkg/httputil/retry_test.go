package httputil

import (
	"context"
	"errors"
	"testing"
	"time"

	tberrors "github.com/toolharbor/toolharbor/pkg/errors"
)

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, Backoff{Base: time.Millisecond}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, Backoff{Base: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return &RetryableError{Err: errors.New("transient")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	err := Retry(context.Background(), 5, Backoff{Base: time.Millisecond}, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesTaxonomyCodes(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, Backoff{Base: time.Millisecond}, func() error {
		calls++
		return tberrors.New(tberrors.ErrCodeTransient, "reset")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	transient := &RetryableError{Err: errors.New("still down")}
	err := Retry(context.Background(), 4, Backoff{Base: time.Millisecond}, func() error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, Backoff{Base: time.Hour}, func() error {
		return &RetryableError{Err: errors.New("transient")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second}, // capped from 32s
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 30 * time.Second, Jitter: 0.25}
	for range 100 {
		d := b.Delay(1) // nominal 4s
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("jittered delay %v outside ±25%% of 4s", d)
		}
	}
}

func TestBackoff_DelayWithHint(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}

	hinted := b.DelayWithHint(0, &tberrors.RateLimitedError{RetryAfter: 10})
	if hinted != 10*time.Second {
		t.Errorf("expected server hint to win, got %v", hinted)
	}

	// A hint shorter than the computed delay does not shrink it.
	short := b.DelayWithHint(4, &tberrors.RateLimitedError{RetryAfter: 1})
	if short != 16*time.Second {
		t.Errorf("expected computed delay 16s, got %v", short)
	}
}
