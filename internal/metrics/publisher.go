// Package metrics is the non-blocking, best-effort metrics emitter:
// every component that wants to record an event calls Publisher.Emit, which
// never returns an error to the caller and never blocks a workflow step on
// broker trouble.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/pantryworks/reciperecon/internal/envelope"
	"github.com/pantryworks/reciperecon/internal/queue"
)

// Publisher is the narrow surface the orchestrator depends on, so it never
// needs to know about the underlying queue gateway directly.
type Publisher interface {
	Emit(ctx context.Context, eventType string, duration *time.Duration, metadata map[string]any)
}

// GatewayPublisher emits metric envelopes onto the metrics queue through a
// queue.Gateway. Publish failures are logged and dropped, never surfaced.
type GatewayPublisher struct {
	gw     *queue.Gateway
	logger *slog.Logger
}

func NewGatewayPublisher(gw *queue.Gateway, logger *slog.Logger) *GatewayPublisher {
	return &GatewayPublisher{gw: gw, logger: logger}
}

func (p *GatewayPublisher) Emit(ctx context.Context, eventType string, duration *time.Duration, metadata map[string]any) {
	var seconds *float64
	if duration != nil {
		s := duration.Seconds()
		seconds = &s
	}
	payload := envelope.MetricPayload{
		EventType: eventType,
		Duration:  seconds,
		Timestamp: time.Now().UTC(),
		Metadata:  stringify(metadata),
	}
	env, err := envelope.New(envelope.TypeMetric, payload, 0)
	if err != nil {
		p.logger.Warn("metrics: failed to build envelope, dropping", "event_type", eventType, "error", err)
		return
	}
	if err := p.gw.Publish(ctx, queue.Metrics, env); err != nil {
		p.logger.Warn("metrics: failed to publish, dropping", "event_type", eventType, "error", err)
	}
}

// stringify coerces values that are not natively JSON serializable (error,
// fmt.Stringer, url.URL, etc.) into strings before emission.
func stringify(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string, bool, int, int64, float64, nil:
			out[k] = val
		case error:
			out[k] = val.Error()
		case interface{ String() string }:
			out[k] = val.String()
		default:
			out[k] = v
		}
	}
	return out
}

// NoopPublisher discards every event; used in unit tests that don't care
// about metrics emission.
type NoopPublisher struct{}

func (NoopPublisher) Emit(context.Context, string, *time.Duration, map[string]any) {}
