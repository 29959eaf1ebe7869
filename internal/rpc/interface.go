// Package rpc defines the transport abstraction between the swarm core
// and its worker agents. Any transport (local simulation, RPC, message
// queue) satisfying AgentRPC is acceptable; the core never talks to an
// agent directly.
package rpc

import (
	"context"
	"time"

	"github.com/wagglenet/waggle/pkg/models"
)

// AgentRPC defines the calls the swarm core makes against worker agents.
// This abstraction allows injecting test doubles and alternative transports.
type AgentRPC interface {
	// RequestVote asks an agent to vote on a proposal.
	// Implementations must honor ctx cancellation.
	RequestVote(ctx context.Context, agentID string, proposal models.Proposal) (models.Vote, error)

	// ExecuteTask asks an agent to execute a pipeline task.
	// Implementations must honor ctx cancellation.
	ExecuteTask(ctx context.Context, agentID string, task models.PipelineTask) (models.TaskResult, error)
}

// StatusProvider reports an agent's live health signals.
// The health monitor polls this on a fixed interval.
type StatusProvider interface {
	// GetAgentStatus returns the agent's current liveness signals.
	GetAgentStatus(ctx context.Context, agentID string) (AgentStatus, error)
}

// AgentStatus is a point-in-time health reading for one agent.
type AgentStatus struct {
	// LastHeartbeat is the last time the agent reported in.
	LastHeartbeat time.Time
	// ResponseTime is the agent's recent response latency.
	ResponseTime time.Duration
	// TaskLoad is the fraction of the agent's capacity in use (0..1).
	TaskLoad float64
}
