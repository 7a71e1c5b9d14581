//go:build integration

package queue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pantryworks/reciperecon/internal/envelope"
)

// These exercise the gateway against a real JetStream-enabled broker
// reachable via the standard RABBITMQ_HOST/PORT env vars, mirroring the
// integration test convention used elsewhere in this codebase for
// broker-backed components.

func TestDeclareTopologyIsIdempotent(t *testing.T) {
	gw, err := Connect(ConfigFromEnv(), slog.Default())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer gw.Close()

	if err := gw.DeclareTopology(); err != nil {
		t.Fatalf("first declare: %v", err)
	}
	if err := gw.DeclareTopology(); err != nil {
		t.Fatalf("second declare: %v", err)
	}
}

func TestPublishAndConsumeRoundTrip(t *testing.T) {
	gw, err := Connect(ConfigFromEnv(), slog.Default())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer gw.Close()
	if err := gw.DeclareTopology(); err != nil {
		t.Fatalf("declare: %v", err)
	}

	env, err := envelope.New(envelope.TypeMetric, envelope.MetricPayload{EventType: "test.event", Timestamp: time.Now().UTC()}, 0)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := gw.Publish(context.Background(), Metrics, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan struct{}, 1)
	go func() {
		_ = gw.Consume(ctx, Metrics, func(_ context.Context, got *envelope.Envelope, ack func(), _ func(), _ func(string)) {
			if got.MessageID == env.MessageID {
				received <- struct{}{}
			}
			ack()
		})
	}()

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for round trip delivery")
	}
}
