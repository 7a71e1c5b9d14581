package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter(5, 5, time.Second, 10)
	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Fatalf("expected allow %d", i)
		}
	}
	if rl.Allow() {
		t.Fatalf("expected deny after capacity")
	}
	time.Sleep(1100 * time.Millisecond)
	if !rl.Allow() {
		t.Fatalf("expected allow after refill")
	}
}

func TestCircuitBreakerAdaptive(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(2*time.Second, 4, 4, 0.5, 500*time.Millisecond, 2)
	for i := 0; i < 4; i++ {
		if !cb.Allow() {
			t.Fatalf("should allow while closed")
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatalf("should be open and deny")
	}
	time.Sleep(600 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("half-open probe should allow")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatalf("second probe should allow")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatalf("breaker should be closed after successful probes")
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	v, err := Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryScheduleFollowsFixedDelays(t *testing.T) {
	delays := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}
	attempts := 0
	start := time.Now()
	_, err := RetrySchedule(context.Background(), delays, func(attempt int) (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("always fails")
	})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if attempts != len(delays)+1 {
		t.Fatalf("expected %d attempts, got %d", len(delays)+1, attempts)
	}
	if elapsed < 15*time.Millisecond {
		t.Fatalf("expected at least the sum of scheduled delays to elapse, got %v", elapsed)
	}
}

func TestHybridRateLimiterDeniesWhenQueueFull(t *testing.T) {
	rl := NewHybridRateLimiter(1, 1, 0, 50*time.Millisecond)
	defer rl.Stop()

	ctx := context.Background()
	if !rl.Allow(ctx) {
		t.Fatalf("expected first token to be available")
	}
	if rl.Allow(ctx) {
		t.Fatalf("expected second immediate call to be denied")
	}
	if err := rl.Wait(ctx); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded with zero queue capacity, got %v", err)
	}
}
