package consensus

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagglenet/waggle/internal/directory"
	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/pkg/models"
)

// Config holds the coordinator's screening and trust parameters.
type Config struct {
	// PrescreenTrustFloor excludes candidates at or below this trust.
	PrescreenTrustFloor float64
	// PerAgentVoteTimeout bounds each individual vote request. Zero
	// means requests are bounded only by the round deadline.
	PerAgentVoteTimeout time.Duration
	// TrustRewardVote is added for an honest non-abstain vote.
	TrustRewardVote float64
	// TrustPenaltyByzantine is added for a flagged voter (negative).
	TrustPenaltyByzantine float64
	// TrustPenaltyTimeout is added for a timeout abstain (negative).
	TrustPenaltyTimeout float64
	// MaxHistoryDecisions bounds the in-memory vote log.
	MaxHistoryDecisions int
}

// DefaultConfig returns the standard coordinator parameters.
func DefaultConfig() Config {
	return Config{
		PrescreenTrustFloor:   0.5,
		PerAgentVoteTimeout:   5 * time.Second,
		TrustRewardVote:       0.05,
		TrustPenaltyByzantine: -0.3,
		TrustPenaltyTimeout:   -0.1,
		MaxHistoryDecisions:   defaultMaxDecisions,
	}
}

// Stats are running counters over completed rounds, read by the swarm
// health snapshot.
type Stats struct {
	// Rounds is the number of completed consensus rounds.
	Rounds int
	// Reached is how many rounds ended in consensus.
	Reached int
	// ByzantineFailures is how many rounds aborted on Byzantine volume.
	ByzantineFailures int
	// FlaggedVoters is the cumulative count of Byzantine flags issued.
	FlaggedVoters int
}

// Coordinator orchestrates one consensus round end to end: pre-screen,
// collect, detect, evaluate quorum, update trust, record history.
type Coordinator struct {
	dir       *directory.Directory
	collector *Collector
	detector  *Detector
	history   *VoteHistory
	cfg       Config

	mu       sync.Mutex
	inflight map[string]bool
	stats    Stats

	// onResult is called with every completed result. Optional.
	onResult func(models.ConsensusResult)
	// onByzantine is called once per flagged voter. Optional.
	onByzantine func(agentID, decisionID string)
}

// NewCoordinator wires a Coordinator over the directory and transport.
// The detector shares the coordinator's vote history and resolves agent
// domains through the directory.
func NewCoordinator(dir *directory.Directory, agentRPC rpc.AgentRPC, cfg Config, detCfg DetectorConfig) *Coordinator {
	history := NewVoteHistory(cfg.MaxHistoryDecisions)
	detector := NewDetector(detCfg, history)
	detector.SetDomainLookup(func(agentID string) (string, bool) {
		a, ok := dir.Get(agentID)
		if !ok {
			return "", false
		}
		return a.Domain, true
	})

	return &Coordinator{
		dir:       dir,
		collector: NewCollector(agentRPC, cfg.PerAgentVoteTimeout),
		detector:  detector,
		history:   history,
		cfg:       cfg,
		inflight:  make(map[string]bool),
	}
}

// Detector exposes the detector for hook installation (signatures).
func (c *Coordinator) Detector() *Detector { return c.detector }

// History exposes the vote history log.
func (c *Coordinator) History() *VoteHistory { return c.history }

// SetResultHook registers a callback for completed rounds.
// Must be set before AchieveConsensus is called.
func (c *Coordinator) SetResultHook(fn func(models.ConsensusResult)) {
	c.onResult = fn
}

// SetByzantineHook registers a callback fired once per flagged voter.
// Must be set before AchieveConsensus is called.
func (c *Coordinator) SetByzantineHook(fn func(agentID, decisionID string)) {
	c.onByzantine = fn
}

// Stats returns a copy of the running round counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// AchieveConsensus runs one decision round over the candidate agents.
// It returns an error only for configuration mistakes (empty candidate
// set, bad quorum, zero timeout, duplicate in-flight decision); every
// operational failure surfaces inside the structured result instead.
func (c *Coordinator) AchieveConsensus(ctx context.Context, proposal models.Proposal, candidateIDs []string) (models.ConsensusResult, error) {
	if len(candidateIDs) == 0 {
		return models.ConsensusResult{}, fmt.Errorf("candidate agent list is empty")
	}
	if proposal.QuorumFraction <= 0 || proposal.QuorumFraction > 1 {
		return models.ConsensusResult{}, fmt.Errorf("quorum fraction %v outside (0,1]", proposal.QuorumFraction)
	}
	if proposal.Timeout <= 0 {
		return models.ConsensusResult{}, fmt.Errorf("timeout must be positive")
	}
	if proposal.DecisionID == "" {
		proposal.DecisionID = uuid.New().String()[:8]
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}

	// A decision ID maps to exactly one in-flight proposal.
	c.mu.Lock()
	if c.inflight[proposal.DecisionID] {
		c.mu.Unlock()
		return models.ConsensusResult{}, fmt.Errorf("decision %q already in flight", proposal.DecisionID)
	}
	c.inflight[proposal.DecisionID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, proposal.DecisionID)
		c.mu.Unlock()
	}()

	// Pre-screen: only active, trusted, unsuspicious agents vote.
	eligible := c.prescreen(candidateIDs)
	if len(eligible) == 0 {
		log.Printf("[consensus] decision %s: pre-screening removed all %d candidates", proposal.DecisionID, len(candidateIDs))
		return c.finish(models.ConsensusResult{
			DecisionID: proposal.DecisionID,
			Status:     models.StatusByzantineFailure,
			Decision:   models.DecisionAbort,
			Confidence: 0,
		}, nil, nil), nil
	}

	// Collect votes under the shared round deadline.
	roundCtx, cancel := context.WithTimeout(ctx, proposal.Timeout)
	votes := c.collector.Collect(roundCtx, proposal, eligible)
	cancel()

	// Detect and exclude Byzantine voters.
	flagged := c.detector.Detect(proposal, votes)
	flaggedSet := make(map[string]bool, len(flagged))
	for _, id := range flagged {
		flaggedSet[id] = true
		c.dir.MarkSuspicious(id)
		log.Printf("[consensus] decision %s: flagged agent %s as byzantine", proposal.DecisionID, id)
		if c.onByzantine != nil {
			c.onByzantine(id, proposal.DecisionID)
		}
	}

	result := c.evaluate(proposal, candidateIDs, votes, flagged, flaggedSet)
	return c.finish(result, votes, flaggedSet), nil
}

// prescreen filters candidate IDs through the directory.
func (c *Coordinator) prescreen(candidateIDs []string) []string {
	eligible := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		a, ok := c.dir.Get(id)
		if !ok {
			continue
		}
		if a.Eligible(c.cfg.PrescreenTrustFloor) {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

// evaluate applies the quorum arithmetic.
//
// A vote is "valid" when it was actually cast: non-Byzantine and not an
// abstain synthesized from a timeout or transport failure. Deliberate
// abstains count as valid votes that simply don't agree. Confidence is
// agree/valid everywhere except the insufficient-votes branch, which
// uses agree/required.
func (c *Coordinator) evaluate(proposal models.Proposal, candidateIDs []string, votes []models.Vote, flagged []string, flaggedSet map[string]bool) models.ConsensusResult {
	required := int(math.Ceil(float64(len(candidateIDs)) * proposal.QuorumFraction))

	var counted []models.Vote
	agree := 0
	valid := 0
	timedOut := 0
	for _, v := range votes {
		if flaggedSet[v.AgentID] {
			continue
		}
		counted = append(counted, v)
		if v.TimedOut {
			timedOut++
			continue
		}
		valid++
		if v.Decision == models.VoteAgree {
			agree++
		}
	}

	result := models.ConsensusResult{
		DecisionID:      proposal.DecisionID,
		Votes:           counted,
		ByzantineAgents: flagged,
		CompletedAt:     time.Now(),
	}

	switch {
	case float64(len(flagged)) > float64(valid)/3.0:
		result.Status = models.StatusByzantineFailure
		result.Decision = models.DecisionAbort
		result.Confidence = 0
	case valid == 0 && timedOut > 0:
		// Nobody answered before the deadline.
		result.Status = models.StatusTimeout
		result.Decision = models.DecisionRetry
		result.Confidence = 0
	case agree >= required:
		result.Status = models.StatusConsensus
		result.QuorumAchieved = true
		result.Decision = models.DecisionExecute
		result.Confidence = ratio(agree, valid)
	case valid < required:
		result.Status = models.StatusNoConsensus
		result.Decision = models.DecisionRetry
		result.Confidence = ratio(agree, required)
	default:
		result.Status = models.StatusNoConsensus
		result.Decision = models.DecisionAbort
		result.Confidence = ratio(agree, valid)
	}

	return result
}

// finish applies trust updates, records history, bumps stats, and
// emits the result.
func (c *Coordinator) finish(result models.ConsensusResult, votes []models.Vote, flaggedSet map[string]bool) models.ConsensusResult {
	for _, v := range votes {
		switch {
		case flaggedSet[v.AgentID]:
			c.dir.AdjustTrust(v.AgentID, c.cfg.TrustPenaltyByzantine)
		case v.TimedOut:
			c.dir.AdjustTrust(v.AgentID, c.cfg.TrustPenaltyTimeout)
		case v.Decision != models.VoteAbstain:
			c.dir.AdjustTrust(v.AgentID, c.cfg.TrustRewardVote)
		}
	}

	if len(votes) > 0 {
		c.history.Append(result.DecisionID, votes)
	}

	c.mu.Lock()
	c.stats.Rounds++
	if result.Status == models.StatusConsensus {
		c.stats.Reached++
	}
	if result.Status == models.StatusByzantineFailure {
		c.stats.ByzantineFailures++
	}
	c.stats.FlaggedVoters += len(result.ByzantineAgents)
	c.mu.Unlock()

	log.Printf("[consensus] decision %s: %s (%s, confidence %.2f, %d byzantine)",
		result.DecisionID, result.Status, result.Decision, result.Confidence, len(result.ByzantineAgents))

	if c.onResult != nil {
		c.onResult(result)
	}
	return result
}

// ratio returns a/b guarding against a zero denominator.
func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
