package models

import "time"

// AgentStatus represents the current availability of a worker agent.
type AgentStatus string

const (
	// AgentStatusActive indicates the agent is available for work.
	AgentStatusActive AgentStatus = "active"
	// AgentStatusBusy indicates the agent is executing a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusUnhealthy indicates the agent failed a health check.
	AgentStatusUnhealthy AgentStatus = "unhealthy"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusActive, AgentStatusBusy, AgentStatusUnhealthy:
		return true
	default:
		return false
	}
}

// HealthState is the classification produced by the health monitor.
type HealthState string

const (
	// HealthHealthy indicates the agent is responsive and under load limits.
	HealthHealthy HealthState = "healthy"
	// HealthUnhealthy indicates the agent's heartbeat is stale.
	HealthUnhealthy HealthState = "unhealthy"
	// HealthOverloaded indicates the agent's task load is above the limit.
	HealthOverloaded HealthState = "overloaded"
	// HealthSlow indicates the agent's response time is above the limit.
	HealthSlow HealthState = "slow"
)

// DefaultTrustScore is the trust assigned to a newly registered agent.
const DefaultTrustScore = 1.0

// Agent represents a worker agent known to the directory.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Domain is the work domain this agent serves (e.g., "security").
	Domain string `json:"domain"`
	// Capabilities are tags describing the work this agent accepts.
	Capabilities []string `json:"capabilities,omitempty"`
	// Status is the current availability of the agent.
	Status AgentStatus `json:"status"`
	// Health is the most recent health classification.
	Health HealthState `json:"health"`
	// LastHeartbeat is the last time the agent was seen alive.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// ResponseTime is the most recently observed response latency.
	ResponseTime time.Duration `json:"response_time"`
	// TaskLoad is the fraction of the agent's capacity in use (0..1).
	TaskLoad float64 `json:"task_load"`
	// TrustScore is the agent's reputation in [0,1]. New agents start at 1.0.
	TrustScore float64 `json:"trust_score"`
	// Suspicious marks the agent as excluded by pre-screening.
	Suspicious bool `json:"suspicious"`
	// RegisteredAt is when the agent joined the directory.
	RegisteredAt time.Time `json:"registered_at"`
}

// Eligible reports whether the agent passes consensus pre-screening:
// active, trusted above the floor, and not flagged suspicious.
func (a *Agent) Eligible(trustFloor float64) bool {
	return a.Status == AgentStatusActive && a.TrustScore > trustFloor && !a.Suspicious
}
