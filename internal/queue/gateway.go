package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	coreerrors "github.com/pantryworks/reciperecon/internal/core/errors"
	"github.com/pantryworks/reciperecon/internal/envelope"
)

var propagator = propagation.TraceContext{}

var tracer = otel.Tracer("reciperecon-queue")

// Handler is invoked exactly once per delivery attempt and is expected to
// call exactly one of ack/nackRequeue/nackDLQ before it returns. If it
// returns without calling any of them, the gateway naks the delivery so it
// is redelivered.
type Handler func(ctx context.Context, env *envelope.Envelope, ack func(), nackRequeue func(), nackDLQ func(reason string))

// Gateway owns the broker connection and JetStream context. It is the only
// package that imports nats.go directly.
type Gateway struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu       sync.Mutex
	declared bool

	logger *slog.Logger
}

// Connect dials the broker. A dial failure is a FatalError: exit code
// 1, the caller (cmd/reciperecon) must stop the process.
func Connect(cfg Config, logger *slog.Logger) (*Gateway, error) {
	nc, err := nats.Connect(cfg.url(), connectOpts()...)
	if err != nil {
		return nil, coreerrors.NewFatalError("connect to broker", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, coreerrors.NewFatalError("acquire jetstream context", err)
	}
	return &Gateway{cfg: cfg, nc: nc, js: js, logger: logger}, nil
}

// ConnectWithRetry wraps Connect in an exponential backoff loop, for the
// startup path where the broker may still be coming up alongside this
// process (e.g. a compose/k8s cold start). It gives up once maxElapsed has
// passed, returning the last FatalError from Connect.
func ConnectWithRetry(ctx context.Context, cfg Config, logger *slog.Logger, maxElapsed time.Duration) (*Gateway, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = maxElapsed

	var gw *Gateway
	operation := func() error {
		var err error
		gw, err = Connect(cfg, logger)
		if err != nil {
			logger.Warn("broker connect attempt failed, retrying", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return gw, nil
}

// Close drains and closes the underlying connection; part of the graceful
// shutdown sequence.
func (g *Gateway) Close() {
	if g.nc != nil {
		_ = g.nc.Drain()
	}
}

// DeclareTopology is idempotent: calling it twice with identical
// configuration is a no-op on the second call, since JetStream's
// AddStream returns the existing stream info when the spec is unchanged.
func (g *Gateway) DeclareTopology() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.declared {
		return nil
	}
	for _, spec := range streamSpecs(g.cfg) {
		streamCfg := &nats.StreamConfig{
			Name:     spec.name,
			Subjects: spec.subjects,
			Discard:  spec.discard,
			Replicas: spec.replicas,
			Storage:  nats.FileStorage,
		}
		if spec.maxAge > 0 {
			streamCfg.MaxAge = spec.maxAge
		}
		if spec.maxMsgs > 0 {
			streamCfg.MaxMsgs = spec.maxMsgs
		}
		if spec.maxBytes > 0 {
			streamCfg.MaxBytes = spec.maxBytes
		}
		if _, err := g.js.AddStream(streamCfg); err != nil {
			if _, uerr := g.js.UpdateStream(streamCfg); uerr != nil {
				return coreerrors.NewFatalError(fmt.Sprintf("declare stream %s", spec.name), err)
			}
		}
	}
	g.declared = true
	return nil
}

// Publish sends env as persistent, content_type=application/json.
// Higher-level retry belongs to the workflow layer; this method retries at
// most once at the transport level (JetStream's synchronous publish already
// blocks for broker ack, so a single resend covers a dropped connection
// blip).
func (g *Gateway) Publish(ctx context.Context, queue Name, env *envelope.Envelope) error {
	ctx, span := tracer.Start(ctx, "queue.publish", trace.WithAttributes())
	defer span.End()

	data, err := json.Marshal(env)
	if err != nil {
		return coreerrors.NewValidationError("payload", "envelope not serializable")
	}

	hdr := nats.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Nats-Msg-Id", env.MessageID.String())
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(ctx, carrier)

	msg := &nats.Msg{Subject: string(queue), Data: data, Header: hdr}
	_, err = g.js.PublishMsg(msg)
	if err != nil {
		// one retry at the transport level
		_, err = g.js.PublishMsg(msg)
	}
	if err != nil {
		return coreerrors.NewTransientError("publish:"+string(queue), err)
	}
	return nil
}

// consumerName derives a stable durable-consumer name for fair dispatch.
func consumerName(queue Name) string {
	return "consumer-" + streamNameFor(queue)
}

// Consume establishes a pull consumer with MaxAckPending(1), i.e. prefetch=1
// fair dispatch: the broker will not hand this consumer a second
// message until the first is acked or nacked. Consume blocks until ctx is
// canceled.
func (g *Gateway) Consume(ctx context.Context, queue Name, handler Handler) error {
	sub, err := g.js.PullSubscribe(string(queue), consumerName(queue), nats.MaxAckPending(1), nats.ManualAck())
	if err != nil {
		return coreerrors.NewFatalError("subscribe "+string(queue), err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			g.logger.Warn("fetch failed", "queue", queue, "error", err)
			continue
		}
		for _, msg := range msgs {
			g.handleOne(ctx, queue, msg, handler)
		}
	}
}

func (g *Gateway) handleOne(ctx context.Context, queue Name, msg *nats.Msg, handler Handler) {
	carrier := propagation.HeaderCarrier(msg.Header)
	msgCtx := propagator.Extract(ctx, carrier)
	msgCtx, span := tracer.Start(msgCtx, "queue.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var env envelope.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		g.logger.Warn("poison message, routing to dlq", "queue", queue, "error", err)
		g.sendToDLQ(msgCtx, queue, msg.Data, "poison: "+err.Error())
		_ = msg.Ack()
		return
	}

	var acked bool
	ack := func() {
		acked = true
		_ = msg.Ack()
	}
	nackRequeue := func() {
		acked = true
		_ = msg.Nak()
	}
	nackDLQ := func(reason string) {
		acked = true
		g.sendToDLQ(msgCtx, queue, msg.Data, reason)
		_ = msg.Term()
	}

	handler(msgCtx, &env, ack, nackRequeue, nackDLQ)
	if !acked {
		// handler did not terminate the delivery explicitly; treat as a
		// transient failure so at-least-once redelivery still applies.
		_ = msg.Nak()
	}
}

func (g *Gateway) sendToDLQ(ctx context.Context, origin Name, body []byte, reason string) {
	hdr := nats.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("X-Origin-Queue", string(origin))
	hdr.Set("X-Dlq-Reason", reason)
	msg := &nats.Msg{Subject: string(DLQ), Data: body, Header: hdr}
	if _, err := g.js.PublishMsg(msg); err != nil {
		g.logger.Error("failed to publish to dlq", "origin", origin, "error", err)
	}
}
