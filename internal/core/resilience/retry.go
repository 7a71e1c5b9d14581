// Package resilience collects the retry, circuit-breaking, and rate-limiting
// primitives used by the workflow orchestrator and the agent dispatcher.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Retry executes fn with exponential backoff (base delay) plus full jitter.
// delay acts as the initial backoff; it doubles each attempt until attempts
// are exhausted, capped at 60s to avoid runaway sleeps.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}
	cur := delay
	var lastErr error
	meter := otel.Meter("reciperecon")
	attemptCounter, _ := meter.Int64Counter("reciperecon_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("reciperecon_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("reciperecon_resilience_retry_fail_total")
	for i := 0; i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}

// RetrySchedule executes fn once, then once more after each entry in delays
// (len(delays)+1 attempts in all), sleeping the listed delay between
// attempts (no jitter, no growth). This backs the workflow
// orchestrator's retry budget for search and sink calls, which uses an
// exact delay sequence ([5s, 15s, 30s]) rather than a computed backoff curve.
func RetrySchedule[T any](ctx context.Context, delays []time.Duration, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	meter := otel.Meter("reciperecon")
	attemptCounter, _ := meter.Int64Counter("reciperecon_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("reciperecon_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("reciperecon_resilience_retry_fail_total")

	attempts := len(delays) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn(i)
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i >= len(delays) {
			break
		}
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(delays[i]):
		}
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}
