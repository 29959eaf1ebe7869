// Package swarm wires the directory, consensus coordinator, pipeline
// manager, and health monitor into one lifecycle-managed facade.
package swarm

import (
	"time"

	"github.com/wagglenet/waggle/pkg/models"
)

// EventType represents the type of swarm event.
type EventType string

const (
	// EventTaskQueued indicates a task entered its domain queue.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task began executing on a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed and passed validation.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task exhausted its retries.
	EventTaskFailed EventType = "task_failed"
	// EventConsensusCompleted indicates a consensus round finished.
	EventConsensusCompleted EventType = "consensus_completed"
	// EventAgentFlagged indicates an agent was flagged as Byzantine.
	EventAgentFlagged EventType = "agent_flagged"
	// EventAgentProvisioned indicates the directory created a fresh worker.
	EventAgentProvisioned EventType = "agent_provisioned"
	// EventHealthDegraded indicates an agent's health classification worsened.
	EventHealthDegraded EventType = "health_degraded"
)

// Event represents a state change emitted by the swarm.
// Subscribers receive these on the channel returned by Swarm.Events.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// DecisionID is the ID of the related consensus decision, if applicable.
	DecisionID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Domain is the related domain, if applicable.
	Domain string
	// Message provides additional context about the event.
	Message string
	// Health carries the new classification for health events.
	Health models.HealthState
	// Result carries the structured result for consensus events.
	Result *models.ConsensusResult
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
