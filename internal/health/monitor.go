// Package health polls agent liveness signals and classifies each agent.
// The monitor is purely observational: it writes classifications into
// the directory and never triggers retries or consensus itself.
package health

import (
	"context"
	"log"
	"time"

	"github.com/wagglenet/waggle/internal/directory"
	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/pkg/models"
)

// Config holds the monitor's polling interval and classification limits.
type Config struct {
	// Interval is the sleep between polling cycles.
	Interval time.Duration
	// HeartbeatTimeout classifies an agent unhealthy when its heartbeat
	// is older than this.
	HeartbeatTimeout time.Duration
	// ResponseTimeLimit classifies an agent slow above this latency.
	ResponseTimeLimit time.Duration
	// LoadLimit classifies an agent overloaded above this task load.
	LoadLimit float64
	// PollTimeout bounds a single status request.
	PollTimeout time.Duration
}

// DefaultConfig returns the standard classification limits.
func DefaultConfig() Config {
	return Config{
		Interval:          15 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		ResponseTimeLimit: 10 * time.Second,
		LoadLimit:         0.9,
		PollTimeout:       5 * time.Second,
	}
}

// Monitor periodically polls each known agent and writes its health
// classification into the directory.
type Monitor struct {
	dir      *directory.Directory
	provider rpc.StatusProvider
	cfg      Config

	// onDegraded is called when an agent's classification changes away
	// from healthy. Optional.
	onDegraded func(agentID string, state models.HealthState)
}

// NewMonitor creates a Monitor over the given directory and provider.
func NewMonitor(dir *directory.Directory, provider rpc.StatusProvider, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	return &Monitor{dir: dir, provider: provider, cfg: cfg}
}

// SetDegradedHook registers a callback for health degradations.
// Must be set before Run is called.
func (m *Monitor) SetDegradedHook(fn func(agentID string, state models.HealthState)) {
	m.onDegraded = fn
}

// Run polls on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll runs one classification cycle over every known agent.
func (m *Monitor) Poll(ctx context.Context) {
	now := time.Now()

	for _, agent := range m.dir.All() {
		pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
		status, err := m.provider.GetAgentStatus(pollCtx, agent.ID)
		cancel()

		if err != nil {
			// Unreachable agents keep their last known signals and are
			// classified off the stale heartbeat.
			status = rpc.AgentStatus{
				LastHeartbeat: agent.LastHeartbeat,
				ResponseTime:  agent.ResponseTime,
				TaskLoad:      agent.TaskLoad,
			}
		}

		state := m.Classify(status, now)
		m.dir.UpdateHealth(agent.ID, state, status.LastHeartbeat, status.ResponseTime, status.TaskLoad)

		if state != models.HealthHealthy && state != agent.Health {
			log.Printf("[health] agent %s degraded: %s", agent.ID, state)
			if m.onDegraded != nil {
				m.onDegraded(agent.ID, state)
			}
		}
	}
}

// Classify maps raw status signals to a health state. Staleness wins
// over load, and load wins over latency.
func (m *Monitor) Classify(status rpc.AgentStatus, now time.Time) models.HealthState {
	if now.Sub(status.LastHeartbeat) > m.cfg.HeartbeatTimeout {
		return models.HealthUnhealthy
	}
	if status.TaskLoad > m.cfg.LoadLimit {
		return models.HealthOverloaded
	}
	if status.ResponseTime > m.cfg.ResponseTimeLimit {
		return models.HealthSlow
	}
	return models.HealthHealthy
}
