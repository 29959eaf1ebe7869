package consensus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wagglenet/waggle/internal/directory"
	"github.com/wagglenet/waggle/pkg/models"
)

// fakeSwarmRPC scripts one vote decision per agent. Agents in hang
// block until the context is cancelled; signatures lets tests attach a
// signature to specific agents' votes.
type fakeSwarmRPC struct {
	decisions  map[string]models.VoteDecision
	hang       map[string]bool
	signatures map[string]string
}

func (f *fakeSwarmRPC) RequestVote(ctx context.Context, agentID string, proposal models.Proposal) (models.Vote, error) {
	if f.hang[agentID] {
		<-ctx.Done()
		return models.Vote{}, ctx.Err()
	}
	return models.Vote{
		Decision:  f.decisions[agentID],
		Signature: f.signatures[agentID],
	}, nil
}

func (f *fakeSwarmRPC) ExecuteTask(ctx context.Context, agentID string, task models.PipelineTask) (models.TaskResult, error) {
	return models.TaskResult{}, fmt.Errorf("not implemented")
}

// newTestCoordinator registers the given agents with full trust and
// wires a coordinator over the fake transport.
func newTestCoordinator(t *testing.T, transport *fakeSwarmRPC, agentIDs ...string) (*Coordinator, *directory.Directory) {
	t.Helper()
	dir := directory.New(0.3)
	for _, id := range agentIDs {
		if err := dir.Register(models.Agent{ID: id, Domain: "security"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return NewCoordinator(dir, transport, DefaultConfig(), DefaultDetectorConfig()), dir
}

func proposalWith(quorum float64, timeout time.Duration) models.Proposal {
	return models.Proposal{
		DecisionID:     "d1",
		Payload:        "commit this change",
		QuorumFraction: quorum,
		Timeout:        timeout,
	}
}

func TestQuorumArithmetic(t *testing.T) {
	// N=5, quorum 0.6 => required 3. Three agree, one disagree, one
	// deliberate abstain: consensus, execute, confidence 3/5 = 0.6.
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{
		"a1": models.VoteAgree,
		"a2": models.VoteAgree,
		"a3": models.VoteAgree,
		"a4": models.VoteDisagree,
		"a5": models.VoteAbstain,
	}}
	c, _ := newTestCoordinator(t, transport, "a1", "a2", "a3", "a4", "a5")

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.6, time.Second), []string{"a1", "a2", "a3", "a4", "a5"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if result.Status != models.StatusConsensus {
		t.Errorf("Status = %q, want consensus", result.Status)
	}
	if result.Decision != models.DecisionExecute {
		t.Errorf("Decision = %q, want execute", result.Decision)
	}
	if !result.QuorumAchieved {
		t.Error("QuorumAchieved should be true")
	}
	if result.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", result.Confidence)
	}
	if len(result.ByzantineAgents) != 0 {
		t.Errorf("ByzantineAgents = %v, want none", result.ByzantineAgents)
	}
}

func TestByzantineOverride(t *testing.T) {
	// N=6 with three voters flagged: more than a third of the valid
	// votes are Byzantine, so the round aborts regardless of agreement.
	transport := &fakeSwarmRPC{
		decisions: map[string]models.VoteDecision{
			"a1": models.VoteAgree, "a2": models.VoteAgree, "a3": models.VoteAgree,
			"b1": models.VoteAgree, "b2": models.VoteAgree, "b3": models.VoteAgree,
		},
		signatures: map[string]string{"b1": "bad", "b2": "bad", "b3": "bad"},
	}
	c, dir := newTestCoordinator(t, transport, "a1", "a2", "a3", "b1", "b2", "b3")
	c.Detector().SetSignatureVerifier(func(v *models.Vote) error {
		if v.Signature == "bad" {
			return fmt.Errorf("signature mismatch")
		}
		return nil
	})

	before := map[string]float64{}
	for _, id := range []string{"b1", "b2", "b3"} {
		before[id], _ = dir.TrustScore(id)
	}

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, time.Second), []string{"a1", "a2", "a3", "b1", "b2", "b3"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if result.Status != models.StatusByzantineFailure {
		t.Errorf("Status = %q, want byzantine_failure", result.Status)
	}
	if result.Decision != models.DecisionAbort {
		t.Errorf("Decision = %q, want abort", result.Decision)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
	if len(result.ByzantineAgents) != 3 {
		t.Errorf("ByzantineAgents = %v, want 3 flagged", result.ByzantineAgents)
	}

	// Flagged voters lose trust and turn suspicious.
	for _, id := range []string{"b1", "b2", "b3"} {
		after, _ := dir.TrustScore(id)
		if after >= before[id] {
			t.Errorf("agent %s trust %v -> %v, want strictly decreased", id, before[id], after)
		}
		a, _ := dir.Get(id)
		if !a.Suspicious {
			t.Errorf("agent %s should be marked suspicious", id)
		}
	}
}

func TestInsufficientVotes(t *testing.T) {
	// Only 2 of 5 respond; required is 3. The round ends no_consensus
	// with a retry recommendation and confidence agree/required.
	transport := &fakeSwarmRPC{
		decisions: map[string]models.VoteDecision{"a1": models.VoteAgree, "a2": models.VoteAgree},
		hang:      map[string]bool{"a3": true, "a4": true, "a5": true},
	}
	c, dir := newTestCoordinator(t, transport, "a1", "a2", "a3", "a4", "a5")

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.6, 100*time.Millisecond), []string{"a1", "a2", "a3", "a4", "a5"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if result.Status != models.StatusNoConsensus {
		t.Errorf("Status = %q, want no_consensus", result.Status)
	}
	if result.Decision != models.DecisionRetry {
		t.Errorf("Decision = %q, want retry", result.Decision)
	}
	want := 2.0 / 3.0
	if diff := result.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Confidence = %v, want %v", result.Confidence, want)
	}

	// Timed-out voters take the timeout trust penalty.
	score, _ := dir.TrustScore("a3")
	if score != 0.9 {
		t.Errorf("timed-out agent trust = %v, want 0.9", score)
	}
}

func TestTimeoutStatusWhenNobodyResponds(t *testing.T) {
	transport := &fakeSwarmRPC{hang: map[string]bool{"a1": true, "a2": true, "a3": true}}
	c, _ := newTestCoordinator(t, transport, "a1", "a2", "a3")

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, 50*time.Millisecond), []string{"a1", "a2", "a3"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if result.Status != models.StatusTimeout {
		t.Errorf("Status = %q, want timeout", result.Status)
	}
	if result.Decision != models.DecisionRetry {
		t.Errorf("Decision = %q, want retry", result.Decision)
	}
}

func TestNoConsensusAbortBranch(t *testing.T) {
	// Everyone votes but agreement falls short of quorum while valid
	// votes exceed it: abort, confidence agree/valid.
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{
		"a1": models.VoteAgree,
		"a2": models.VoteDisagree,
		"a3": models.VoteDisagree,
		"a4": models.VoteDisagree,
	}}
	c, _ := newTestCoordinator(t, transport, "a1", "a2", "a3", "a4")

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.75, time.Second), []string{"a1", "a2", "a3", "a4"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if result.Status != models.StatusNoConsensus {
		t.Errorf("Status = %q, want no_consensus", result.Status)
	}
	if result.Decision != models.DecisionAbort {
		t.Errorf("Decision = %q, want abort", result.Decision)
	}
	if result.Confidence != 0.25 {
		t.Errorf("Confidence = %v, want 0.25", result.Confidence)
	}
}

func TestTrustMonotonicity(t *testing.T) {
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{
		"a1": models.VoteAgree,
		"a2": models.VoteDisagree,
	}}
	dir := directory.New(0.3)
	_ = dir.Register(models.Agent{ID: "a1", Domain: "security", TrustScore: 0.6})
	_ = dir.Register(models.Agent{ID: "a2", Domain: "security", TrustScore: 0.6})
	c := NewCoordinator(dir, transport, DefaultConfig(), DefaultDetectorConfig())

	prev, _ := dir.TrustScore("a1")
	for i := 0; i < 10; i++ {
		p := models.Proposal{
			DecisionID:     fmt.Sprintf("round-%d", i),
			QuorumFraction: 0.5,
			Timeout:        time.Second,
		}
		if _, err := c.AchieveConsensus(context.Background(), p, []string{"a1", "a2"}); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}

		score, _ := dir.TrustScore("a1")
		if score < prev {
			t.Errorf("round %d: honest trust decreased %v -> %v", i, prev, score)
		}
		if score > 1.0 {
			t.Errorf("round %d: trust %v exceeds 1.0", i, score)
		}
		prev = score
	}

	if prev != 1.0 {
		t.Errorf("honest trust after 10 rounds = %v, want saturated at 1.0", prev)
	}
}

func TestPrescreenEmptiesSet(t *testing.T) {
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{"a1": models.VoteAgree}}
	dir := directory.New(0.3)
	// Trust at the floor (0.5) is not above it; the agent is screened out.
	_ = dir.Register(models.Agent{ID: "a1", Domain: "security", TrustScore: 0.5})
	c := NewCoordinator(dir, transport, DefaultConfig(), DefaultDetectorConfig())

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, time.Second), []string{"a1"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if result.Status != models.StatusByzantineFailure {
		t.Errorf("Status = %q, want byzantine_failure when pre-screen empties the set", result.Status)
	}
	if result.Decision != models.DecisionAbort {
		t.Errorf("Decision = %q, want abort", result.Decision)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
}

func TestPrescreenExcludesSuspicious(t *testing.T) {
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{
		"a1": models.VoteAgree, "a2": models.VoteAgree,
	}}
	c, dir := newTestCoordinator(t, transport, "a1", "a2")
	dir.MarkSuspicious("a2")

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, time.Second), []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if len(result.Votes) != 1 || result.Votes[0].AgentID != "a1" {
		t.Errorf("counted votes = %+v, want only a1", result.Votes)
	}
}

func TestConfigurationErrors(t *testing.T) {
	transport := &fakeSwarmRPC{}
	c, _ := newTestCoordinator(t, transport, "a1")

	tests := []struct {
		name       string
		proposal   models.Proposal
		candidates []string
	}{
		{"empty candidates", proposalWith(0.5, time.Second), nil},
		{"zero quorum", proposalWith(0, time.Second), []string{"a1"}},
		{"quorum above one", proposalWith(1.5, time.Second), []string{"a1"}},
		{"zero timeout", proposalWith(0.5, 0), []string{"a1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.AchieveConsensus(context.Background(), tt.proposal, tt.candidates); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestDuplicateInflightDecision(t *testing.T) {
	transport := &fakeSwarmRPC{hang: map[string]bool{"a1": true}}
	c, _ := newTestCoordinator(t, transport, "a1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.AchieveConsensus(context.Background(), proposalWith(0.5, 300*time.Millisecond), []string{"a1"})
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, time.Second), []string{"a1"}); err == nil {
		t.Error("second call with the same in-flight decision ID should fail")
	}
	<-done

	// After the first round finishes, the ID is free again.
	if _, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, 50*time.Millisecond), []string{"a1"}); err != nil {
		t.Errorf("reusing a completed decision ID should work: %v", err)
	}
}

func TestHistoryAndStatsRecorded(t *testing.T) {
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{
		"a1": models.VoteAgree, "a2": models.VoteAgree,
	}}
	c, _ := newTestCoordinator(t, transport, "a1", "a2")

	result, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, time.Second), []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}

	if got := len(c.History().DecisionVotes(result.DecisionID)); got != 2 {
		t.Errorf("history has %d votes for %s, want 2", got, result.DecisionID)
	}

	stats := c.Stats()
	if stats.Rounds != 1 || stats.Reached != 1 {
		t.Errorf("stats = %+v, want 1 round, 1 reached", stats)
	}
}

func TestResultHookFires(t *testing.T) {
	transport := &fakeSwarmRPC{decisions: map[string]models.VoteDecision{"a1": models.VoteAgree}}
	c, _ := newTestCoordinator(t, transport, "a1")

	var got []models.ConsensusResult
	c.SetResultHook(func(r models.ConsensusResult) {
		got = append(got, r)
	})

	if _, err := c.AchieveConsensus(context.Background(), proposalWith(0.5, time.Second), []string{"a1"}); err != nil {
		t.Fatalf("AchieveConsensus returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("result hook fired %d times, want 1", len(got))
	}
}
