package consensus

import (
	"time"

	"github.com/wagglenet/waggle/pkg/models"
)

// DetectorConfig holds the suspicion heuristics. The thresholds are
// unverified heuristics, so they are configuration rather than
// constants; DefaultDetectorConfig carries the standard values.
type DetectorConfig struct {
	// SuspicionThreshold flags a voter whose score exceeds it.
	SuspicionThreshold float64
	// MinPlausibleLatency is the fastest believable response; anything
	// quicker suggests a pre-computed or replayed answer.
	MinPlausibleLatency time.Duration
	// ExpectedLatency is the typical response time; responses slower
	// than 3x are penalized.
	ExpectedLatency time.Duration
	// FastPenalty is added for implausibly fast responses.
	FastPenalty float64
	// SlowPenalty is added for responses slower than 3x expected.
	SlowPenalty float64
	// LowAgreeRate and LowAgreeMinVotes: agreeing below the rate after
	// at least the minimum votes adds LowAgreePenalty.
	LowAgreeRate     float64
	LowAgreeMinVotes int
	LowAgreePenalty  float64
	// HighAgreeRate and HighAgreeMinVotes: agreeing above the rate
	// after at least the minimum votes adds HighAgreePenalty. A voter
	// that always agrees is as implausible as one that never does.
	HighAgreeRate     float64
	HighAgreeMinVotes int
	HighAgreePenalty  float64
	// ImpossibleVotePenalty is added when the domain sanity rule fires.
	ImpossibleVotePenalty float64
	// InvalidSignaturePenalty is added when the signature hook rejects
	// a vote.
	InvalidSignaturePenalty float64
	// FlipFlopWindow is the number of trailing votes that must strictly
	// alternate to trigger the hard flag.
	FlipFlopWindow int
}

// DefaultDetectorConfig returns the standard suspicion heuristics.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SuspicionThreshold:      0.6,
		MinPlausibleLatency:     10 * time.Millisecond,
		ExpectedLatency:         time.Second,
		FastPenalty:             0.3,
		SlowPenalty:             0.2,
		LowAgreeRate:            0.2,
		LowAgreeMinVotes:        3,
		LowAgreePenalty:         0.4,
		HighAgreeRate:           0.95,
		HighAgreeMinVotes:       5,
		HighAgreePenalty:        0.3,
		ImpossibleVotePenalty:   0.5,
		InvalidSignaturePenalty: 0.6,
		FlipFlopWindow:          4,
	}
}

// SignatureVerifier validates a vote's signature. Returning an error
// marks the signature invalid. This is a pluggable hook, not a
// cryptosystem: the default detector performs no verification.
type SignatureVerifier func(*models.Vote) error

// DomainLookup resolves an agent ID to its work domain. Used by the
// impossible-vote check; agents without a known domain are skipped.
type DomainLookup func(agentID string) (string, bool)

// Detector scores each vote in a batch for Byzantine suspicion and
// returns the voters to discard. It is advisory: the coordinator
// performs the actual exclusion and trust penalty.
type Detector struct {
	cfg       DetectorConfig
	history   *VoteHistory
	verifySig SignatureVerifier
	domainOf  DomainLookup
}

// NewDetector creates a Detector over the shared vote history.
func NewDetector(cfg DetectorConfig, history *VoteHistory) *Detector {
	if cfg.FlipFlopWindow < 2 {
		cfg.FlipFlopWindow = DefaultDetectorConfig().FlipFlopWindow
	}
	return &Detector{cfg: cfg, history: history}
}

// SetSignatureVerifier installs the optional signature hook.
func (d *Detector) SetSignatureVerifier(fn SignatureVerifier) {
	d.verifySig = fn
}

// SetDomainLookup installs the agent-domain resolver for the
// impossible-vote check.
func (d *Detector) SetDomainLookup(fn DomainLookup) {
	d.domainOf = fn
}

// Detect returns the IDs of voters in the batch to discard, either
// because their suspicion score exceeds the threshold or because their
// trailing votes show the flip-flop signature.
func (d *Detector) Detect(proposal models.Proposal, votes []models.Vote) []string {
	var flagged []string
	for _, v := range votes {
		score := d.Suspicion(proposal, v)
		if score > d.cfg.SuspicionThreshold || d.flipFlops(v) {
			flagged = append(flagged, v.AgentID)
		}
	}
	return flagged
}

// Suspicion computes the vote's suspicion score in [0,1] from the
// independently weighted signals.
func (d *Detector) Suspicion(proposal models.Proposal, v models.Vote) float64 {
	score := 0.0

	// Timing anomalies. Abstains produced by the collector carry no
	// real latency, so only judged votes are timed.
	if v.Decision != models.VoteAbstain {
		if v.Latency > 0 && v.Latency < d.cfg.MinPlausibleLatency {
			score += d.cfg.FastPenalty
		} else if v.Latency > 3*d.cfg.ExpectedLatency {
			score += d.cfg.SlowPenalty
		}
	}

	// Historical inconsistency: both extremes of agreement are
	// implausible for an honest, independently reasoning voter.
	total, agreeRate := d.history.AgreeStats(v.AgentID)
	if total >= d.cfg.LowAgreeMinVotes && agreeRate < d.cfg.LowAgreeRate {
		score += d.cfg.LowAgreePenalty
	} else if total >= d.cfg.HighAgreeMinVotes && agreeRate > d.cfg.HighAgreeRate {
		score += d.cfg.HighAgreePenalty
	}

	// Impossible vote: an agent disagreeing with its own domain's proposal.
	if d.impossibleVote(proposal, v) {
		score += d.cfg.ImpossibleVotePenalty
	}

	// Signature hook.
	if d.verifySig != nil && v.Signature != "" {
		if err := d.verifySig(&v); err != nil {
			score += d.cfg.InvalidSignaturePenalty
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// impossibleVote applies the domain sanity rule.
func (d *Detector) impossibleVote(proposal models.Proposal, v models.Vote) bool {
	if d.domainOf == nil || proposal.Domain == "" || v.Decision != models.VoteDisagree {
		return false
	}
	domain, ok := d.domainOf(v.AgentID)
	return ok && domain == proposal.Domain
}

// flipFlops reports whether the agent's trailing votes, including the
// current one, strictly alternate across the configured window. This
// is a hard trigger independent of the score: alternation is a known
// replay/confusion attack signature.
func (d *Detector) flipFlops(v models.Vote) bool {
	window := d.cfg.FlipFlopWindow
	past := d.history.LastDecisions(v.AgentID, window-1)
	decisions := append(past, v.Decision)
	if len(decisions) < window {
		return false
	}
	for i := 1; i < len(decisions); i++ {
		if decisions[i] == decisions[i-1] {
			return false
		}
	}
	return true
}
