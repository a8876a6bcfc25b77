package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   10, // 10 requests per second = 100ms interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "8.8.8.8:53"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "8.8.8.8:53"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "system"); err != nil {
		t.Fatal(err)
	}

	// A different upstream should not be blocked by the first.
	start := time.Now()
	if err := l.Wait(ctx, "1.1.1.1:53"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("second key blocked unexpectedly")
	}
}

func TestLimiter_DisabledAndCanceled(t *testing.T) {
	t.Parallel()

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background(), "system"); err != nil {
		t.Fatalf("nil limiter should not block: %v", err)
	}

	unlimited := New(Config{})
	for range 100 {
		if err := unlimited.Wait(context.Background(), "system"); err != nil {
			t.Fatalf("unlimited limiter returned error: %v", err)
		}
	}

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "system"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "system"); err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
}
