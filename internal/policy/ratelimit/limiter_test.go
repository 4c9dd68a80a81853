package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	// 10 RPS with burst 1 leaves ~100ms between tokens.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("disabled limiter blocked unexpectedly")
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(ctx); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
}

func TestLimiterHonorsCancellation(t *testing.T) {
	l := New(Config{RPS: 0.1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error after cancellation")
	}
}
