package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/pkg/models"
)

// Collector gathers votes from an agent subset in parallel. Every
// request races against the proposal's shared deadline; a non-response
// or transport error becomes an abstain vote carrying the failure
// reason, so one bad agent can never abort the round.
type Collector struct {
	agentRPC rpc.AgentRPC
	// perAgentTimeout bounds each individual request. The effective
	// timeout is the smaller of this and the time left on the round.
	perAgentTimeout time.Duration
}

// NewCollector creates a Collector over the given transport.
func NewCollector(agentRPC rpc.AgentRPC, perAgentTimeout time.Duration) *Collector {
	return &Collector{agentRPC: agentRPC, perAgentTimeout: perAgentTimeout}
}

// Collect requests a vote from every agent concurrently and returns one
// vote per agent, in agentIDs order. ctx must carry the round's global
// deadline; Collect never outlives it. Votes are logically simultaneous:
// no agent's response is visible to another before all requests close.
func (c *Collector) Collect(ctx context.Context, proposal models.Proposal, agentIDs []string) []models.Vote {
	votes := make([]models.Vote, len(agentIDs))

	var wg sync.WaitGroup
	for i, id := range agentIDs {
		wg.Add(1)
		go func(i int, agentID string) {
			defer wg.Done()
			votes[i] = c.requestOne(ctx, proposal, agentID)
		}(i, id)
	}
	wg.Wait()

	return votes
}

// requestOne performs a single bounded vote request.
func (c *Collector) requestOne(ctx context.Context, proposal models.Proposal, agentID string) models.Vote {
	reqCtx := ctx
	var cancel context.CancelFunc
	if c.perAgentTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.perAgentTimeout)
		defer cancel()
	}

	start := time.Now()
	vote, err := c.agentRPC.RequestVote(reqCtx, agentID, proposal)
	elapsed := time.Since(start)

	if err != nil {
		reason := "vote request failed: " + err.Error()
		if reqCtx.Err() != nil {
			reason = "vote request timed out"
		}
		return models.Vote{
			AgentID:    agentID,
			DecisionID: proposal.DecisionID,
			Decision:   models.VoteAbstain,
			Reasoning:  reason,
			Latency:    elapsed,
			Timestamp:  time.Now(),
			TimedOut:   true,
		}
	}

	// Normalize fields the transport may not fill in.
	vote.AgentID = agentID
	vote.DecisionID = proposal.DecisionID
	vote.Latency = elapsed
	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}
	if !vote.Decision.Valid() {
		vote.Decision = models.VoteAbstain
		vote.Reasoning = "agent returned unknown decision"
	}
	return vote
}
