package agent

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultHeartbeatInterval is the max allowed gap since an agent's last
	// heartbeat before it is declared failed.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHealthCheckInterval is how often the health loop scans the
	// registry.
	DefaultHealthCheckInterval = 60 * time.Second
	// DefaultMaxErrorCount is the error_count threshold at or above which an
	// agent is declared failed.
	DefaultMaxErrorCount = 3
)

// Supervisor restarts a failed agent process. Unspecified beyond this seam.
type Supervisor interface {
	Restart(ctx context.Context, agentID string) error
}

// HealthLoop periodically scans the registry for heartbeat timeouts and
// error-count breaches, failing agents and handing them to a Supervisor for
// recovery.
type HealthLoop struct {
	registry          *Registry
	dispatcher        *Dispatcher
	supervisor        Supervisor
	heartbeatInterval time.Duration
	checkInterval     time.Duration
	logger            *slog.Logger
}

func NewHealthLoop(registry *Registry, dispatcher *Dispatcher, supervisor Supervisor, logger *slog.Logger) *HealthLoop {
	return &HealthLoop{
		registry:          registry,
		dispatcher:        dispatcher,
		supervisor:        supervisor,
		heartbeatInterval: DefaultHeartbeatInterval,
		checkInterval:     DefaultHealthCheckInterval,
		logger:            logger,
	}
}

// Run blocks, scanning on every tick until ctx is canceled.
func (h *HealthLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.scan(ctx)
		}
	}
}

func (h *HealthLoop) scan(ctx context.Context) {
	now := time.Now().UTC()
	for _, entry := range h.registry.All() {
		if entry.Health.State == HealthFailed || entry.Health.State == HealthTerminated {
			continue
		}
		timedOut := now.Sub(entry.Health.LastHeartbeat) > h.heartbeatInterval
		breached := entry.Health.ErrorCount >= DefaultMaxErrorCount
		if !timedOut && !breached {
			continue
		}

		h.registry.MarkFailed(entry.AgentID)
		h.logger.Warn("agent marked failed", "agent_id", entry.AgentID, "timed_out", timedOut, "error_count", entry.Health.ErrorCount)

		if h.supervisor == nil {
			continue
		}
		if err := h.supervisor.Restart(ctx, entry.AgentID); err != nil {
			h.logger.Error("agent recovery failed", "agent_id", entry.AgentID, "error", err)
		}
	}
}
