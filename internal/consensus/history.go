// Package consensus implements Byzantine-fault-tolerant decision making
// over a dynamic agent set: parallel vote collection under timeout,
// suspicion scoring of misbehaving voters, quorum evaluation, and trust
// feedback into the agent directory.
package consensus

import (
	"sync"

	"github.com/wagglenet/waggle/pkg/models"
)

// defaultMaxDecisions bounds the in-memory vote log. Oldest decisions
// are rotated out once the cap is reached.
const defaultMaxDecisions = 1000

// VoteHistory is the append-only log of votes keyed by decision ID.
// Appends are totally ordered per decision so trust updates stay
// deterministic for a fixed set of inputs. History lives for the
// coordinator's lifetime only; it is not persisted.
type VoteHistory struct {
	mu           sync.RWMutex
	byDecision   map[string][]models.Vote
	order        []string
	byAgent      map[string][]models.Vote
	maxDecisions int
}

// NewVoteHistory creates a history bounded to maxDecisions decisions.
// Zero or negative means the default bound.
func NewVoteHistory(maxDecisions int) *VoteHistory {
	if maxDecisions <= 0 {
		maxDecisions = defaultMaxDecisions
	}
	return &VoteHistory{
		byDecision:   make(map[string][]models.Vote),
		byAgent:      make(map[string][]models.Vote),
		maxDecisions: maxDecisions,
	}
}

// Append records all votes for one decision. Rotates out the oldest
// decision when the bound is exceeded.
func (h *VoteHistory) Append(decisionID string, votes []models.Vote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byDecision[decisionID]; !exists {
		h.order = append(h.order, decisionID)
	}
	h.byDecision[decisionID] = append(h.byDecision[decisionID], votes...)
	for _, v := range votes {
		h.byAgent[v.AgentID] = append(h.byAgent[v.AgentID], v)
	}

	for len(h.order) > h.maxDecisions {
		oldest := h.order[0]
		h.order = h.order[1:]
		for _, v := range h.byDecision[oldest] {
			h.dropAgentVote(v.AgentID, oldest)
		}
		delete(h.byDecision, oldest)
	}
}

// dropAgentVote removes the agent's earliest vote for the decision.
// Caller must hold h.mu.
func (h *VoteHistory) dropAgentVote(agentID, decisionID string) {
	votes := h.byAgent[agentID]
	for i, v := range votes {
		if v.DecisionID == decisionID {
			h.byAgent[agentID] = append(votes[:i:i], votes[i+1:]...)
			return
		}
	}
}

// DecisionVotes returns a copy of the votes recorded for a decision.
func (h *VoteHistory) DecisionVotes(decisionID string) []models.Vote {
	h.mu.RLock()
	defer h.mu.RUnlock()
	votes := h.byDecision[decisionID]
	out := make([]models.Vote, len(votes))
	copy(out, votes)
	return out
}

// AgentVotes returns a copy of the agent's votes in append order.
func (h *VoteHistory) AgentVotes(agentID string) []models.Vote {
	h.mu.RLock()
	defer h.mu.RUnlock()
	votes := h.byAgent[agentID]
	out := make([]models.Vote, len(votes))
	copy(out, votes)
	return out
}

// AgreeStats returns how many recorded votes the agent has cast and
// what fraction of them agreed. Abstains count toward the total.
func (h *VoteHistory) AgreeStats(agentID string) (total int, agreeRate float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	votes := h.byAgent[agentID]
	if len(votes) == 0 {
		return 0, 0
	}
	agrees := 0
	for _, v := range votes {
		if v.Decision == models.VoteAgree {
			agrees++
		}
	}
	return len(votes), float64(agrees) / float64(len(votes))
}

// LastDecisions returns the agent's most recent n vote decisions,
// oldest first. Fewer are returned when the agent has a shorter record.
func (h *VoteHistory) LastDecisions(agentID string, n int) []models.VoteDecision {
	h.mu.RLock()
	defer h.mu.RUnlock()

	votes := h.byAgent[agentID]
	if len(votes) > n {
		votes = votes[len(votes)-n:]
	}
	out := make([]models.VoteDecision, len(votes))
	for i, v := range votes {
		out[i] = v.Decision
	}
	return out
}

// DecisionCount returns the number of decisions currently retained.
func (h *VoteHistory) DecisionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
