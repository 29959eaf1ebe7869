package models

import "time"

// VoteDecision is an agent's position on a proposal.
type VoteDecision string

const (
	// VoteAgree indicates the agent endorses the proposal.
	VoteAgree VoteDecision = "agree"
	// VoteDisagree indicates the agent rejects the proposal.
	VoteDisagree VoteDecision = "disagree"
	// VoteAbstain indicates the agent did not take a position,
	// including non-response and transport failure.
	VoteAbstain VoteDecision = "abstain"
)

// Valid returns true if the decision is a known value.
func (d VoteDecision) Valid() bool {
	switch d {
	case VoteAgree, VoteDisagree, VoteAbstain:
		return true
	default:
		return false
	}
}

// Proposal is a decision put to the swarm for a vote.
type Proposal struct {
	// DecisionID is the unique identifier for this decision.
	DecisionID string `json:"decision_id"`
	// Domain is the work domain the decision concerns.
	Domain string `json:"domain,omitempty"`
	// Payload is the caller-supplied content of the proposal.
	Payload string `json:"payload"`
	// QuorumFraction is the fraction of candidates that must agree, in (0,1].
	QuorumFraction float64 `json:"quorum_fraction"`
	// Timeout bounds the whole consensus round.
	Timeout time.Duration `json:"timeout"`
	// CreatedAt is when the proposal was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Vote is a single agent's recorded response to a proposal.
// Votes are immutable once recorded.
type Vote struct {
	// AgentID identifies the voter.
	AgentID string `json:"agent_id"`
	// DecisionID identifies the proposal voted on.
	DecisionID string `json:"decision_id"`
	// Decision is the agent's position.
	Decision VoteDecision `json:"decision"`
	// Reasoning is the agent's optional justification. For abstains
	// produced by the collector it carries the failure reason.
	Reasoning string `json:"reasoning,omitempty"`
	// Signature is an optional opaque signature over the vote.
	Signature string `json:"signature,omitempty"`
	// Latency is how long the agent took to respond.
	Latency time.Duration `json:"latency"`
	// Timestamp is when the vote was recorded.
	Timestamp time.Time `json:"timestamp"`
	// TimedOut is true when the abstain was caused by a timeout.
	TimedOut bool `json:"timed_out,omitempty"`
}

// ConsensusStatus is the outcome category of a consensus round.
type ConsensusStatus string

const (
	// StatusConsensus indicates quorum was reached.
	StatusConsensus ConsensusStatus = "consensus"
	// StatusNoConsensus indicates quorum was not reached.
	StatusNoConsensus ConsensusStatus = "no_consensus"
	// StatusTimeout indicates the round expired before enough votes arrived.
	StatusTimeout ConsensusStatus = "timeout"
	// StatusByzantineFailure indicates too many voters were flagged Byzantine.
	StatusByzantineFailure ConsensusStatus = "byzantine_failure"
)

// ExecutionDecision is what the caller should do with the proposal.
type ExecutionDecision string

const (
	// DecisionExecute means proceed with the proposed action.
	DecisionExecute ExecutionDecision = "execute"
	// DecisionAbort means do not proceed.
	DecisionAbort ExecutionDecision = "abort"
	// DecisionRetry means too few valid votes; the round may be re-run.
	DecisionRetry ExecutionDecision = "retry"
)

// ConsensusResult is the immutable outcome of one consensus round.
type ConsensusResult struct {
	// DecisionID identifies the proposal this result answers.
	DecisionID string `json:"decision_id"`
	// Status is the outcome category.
	Status ConsensusStatus `json:"status"`
	// Votes are the counted (non-Byzantine) votes.
	Votes []Vote `json:"votes"`
	// QuorumAchieved is true when agreeing votes met the requirement.
	QuorumAchieved bool `json:"quorum_achieved"`
	// ByzantineAgents lists voters excluded by the detector.
	ByzantineAgents []string `json:"byzantine_agents,omitempty"`
	// Decision is the recommended action.
	Decision ExecutionDecision `json:"decision"`
	// Confidence is the strength of the outcome in [0,1].
	Confidence float64 `json:"confidence"`
	// CompletedAt is when the round finished.
	CompletedAt time.Time `json:"completed_at"`
}
