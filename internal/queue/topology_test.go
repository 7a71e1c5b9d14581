package queue

import (
	"os"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	os.Unsetenv("RABBITMQ_HOST")
	os.Unsetenv("METRICS_QUEUE_NAME")
	os.Unsetenv("WORKFLOW_MESSAGES_QUEUE_NAME")

	cfg := ConfigFromEnv()
	if cfg.MetricsQueueName != string(Metrics) {
		t.Fatalf("expected default metrics queue name, got %q", cfg.MetricsQueueName)
	}
	if cfg.CommandsQueueName != string(Commands) {
		t.Fatalf("expected default commands queue name, got %q", cfg.CommandsQueueName)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("METRICS_QUEUE_NAME", "custom_metrics")
	t.Setenv("WORKFLOW_MESSAGES_QUEUE_NAME", "custom_commands")

	cfg := ConfigFromEnv()
	if cfg.MetricsQueueName != "custom_metrics" {
		t.Fatalf("expected override to take effect, got %q", cfg.MetricsQueueName)
	}
	if cfg.CommandsQueueName != "custom_commands" {
		t.Fatalf("expected override to take effect, got %q", cfg.CommandsQueueName)
	}
}

func TestStreamSpecsTasksOverflowIsRejectPublish(t *testing.T) {
	cfg := ConfigFromEnv()
	specs := streamSpecs(cfg)
	for _, s := range specs {
		if s.name == "TASKS" {
			if s.maxMsgs != defaultTasksMaxLen {
				t.Fatalf("expected tasks max-length %d, got %d", defaultTasksMaxLen, s.maxMsgs)
			}
			if s.discard != nats.DiscardNew {
				t.Fatalf("expected tasks discard policy DiscardNew (reject-publish), got %v", s.discard)
			}
			return
		}
	}
	t.Fatalf("tasks stream spec not found")
}
