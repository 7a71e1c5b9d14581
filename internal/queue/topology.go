// Package queue is the broker abstraction: it owns the JetStream
// connection, declares the durable stream/consumer topology, and exposes a
// narrow publish/consume surface so no other package imports nats.go
// directly.
package queue

import (
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// Name identifies one of the logical queues in the topology table.
type Name string

const (
	Commands Name = "workflow_messages"
	Tasks    Name = "agent.tasks"
	Results  Name = "agent.results"
	Metrics  Name = "metrics_queue"
	DLQ      Name = "agent.dlq"
)

const (
	defaultTTL            = 5 * time.Minute
	defaultTasksMaxLen    = 10000
	defaultTasksMaxBytes  = 100 * 1024 * 1024
	defaultMetricsMaxLen  = 10000
	defaultMetricsMaxByte = 100 * 1024 * 1024
)

// Config carries broker connection parameters and queue-name overrides, all
// sourced from environment variables.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string

	MetricsQueueName  string
	CommandsQueueName string
}

// ConfigFromEnv reads RABBITMQ_HOST/PORT/USER/PASSWORD and the two queue-name
// overrides. The env var names stay RabbitMQ-flavored even though the
// transport underneath is JetStream, since deployments already set these
// names.
func ConfigFromEnv() Config {
	return Config{
		Host:              envOr("RABBITMQ_HOST", "127.0.0.1"),
		Port:              envOr("RABBITMQ_PORT", "4222"),
		User:              os.Getenv("RABBITMQ_USER"),
		Password:          os.Getenv("RABBITMQ_PASSWORD"),
		MetricsQueueName:  envOr("METRICS_QUEUE_NAME", string(Metrics)),
		CommandsQueueName: envOr("WORKFLOW_MESSAGES_QUEUE_NAME", string(Commands)),
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func (c Config) url() string {
	if c.User == "" {
		return "nats://" + c.Host + ":" + c.Port
	}
	return "nats://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port
}

// connectOpts sets a bounded reconnect posture: reconnect attempts with
// backoff, never silently giving up without surfacing a FatalError to the
// caller.
func connectOpts() []nats.Option {
	return []nats.Option{
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(10 * time.Second),
	}
}

// streamSpec is the stream-level declaration. JetStream streams stand in for
// the durable-queue-with-DLX concept: a stream keeps messages until consumed
// or until MaxAge/MaxMsgs/MaxBytes eviction, and a Nak-without-requeue from a
// handler causes the gateway to republish to the DLQ stream directly,
// since JetStream has no native per-queue DLX binding.
type streamSpec struct {
	name     string
	subjects []string
	maxAge   time.Duration
	maxMsgs  int64
	maxBytes int64
	discard  nats.DiscardPolicy
	replicas int
}

func streamSpecs(cfg Config) []streamSpec {
	return []streamSpec{
		{
			name:     streamNameFor(Name(cfg.CommandsQueueName)),
			subjects: []string{string(Commands)},
			maxAge:   defaultTTL,
			discard:  nats.DiscardOld,
			replicas: 1,
		},
		{
			name:     streamNameFor(Tasks),
			subjects: []string{string(Tasks)},
			maxAge:   defaultTTL,
			maxMsgs:  defaultTasksMaxLen,
			maxBytes: defaultTasksMaxBytes,
			discard:  nats.DiscardNew, // reject-publish overflow policy
			replicas: 1,
		},
		{
			name:     streamNameFor(Results),
			subjects: []string{string(Results)},
			discard:  nats.DiscardOld,
			replicas: 1,
		},
		{
			name:     streamNameFor(Name(cfg.MetricsQueueName)),
			subjects: []string{string(Metrics)},
			maxMsgs:  defaultMetricsMaxLen,
			maxBytes: defaultMetricsMaxByte,
			discard:  nats.DiscardNew,
			replicas: 1,
		},
		{
			name:     streamNameFor(DLQ),
			subjects: []string{string(DLQ)},
			discard:  nats.DiscardOld,
			replicas: 1,
		},
	}
}

func streamNameFor(n Name) string {
	switch n {
	case Commands:
		return "COMMANDS"
	case Tasks:
		return "TASKS"
	case Results:
		return "RESULTS"
	case Metrics:
		return "METRICS"
	case DLQ:
		return "DLQ"
	default:
		return string(n)
	}
}
