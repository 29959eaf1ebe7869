package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wagglenet/waggle/pkg/models"
)

// Behavior selects how a simulated agent responds to votes and tasks.
type Behavior string

const (
	// BehaviorHonest agrees with proposals and completes tasks.
	BehaviorHonest Behavior = "honest"
	// BehaviorContrarian disagrees with proposals but completes tasks.
	BehaviorContrarian Behavior = "contrarian"
	// BehaviorSilent never responds; requests block until cancelled.
	BehaviorSilent Behavior = "silent"
	// BehaviorByzantine answers instantly with alternating votes and
	// fails every task it is given.
	BehaviorByzantine Behavior = "byzantine"
	// BehaviorFlaky fails its first FailAttempts task executions, then succeeds.
	BehaviorFlaky Behavior = "flaky"
	// BehaviorSlow behaves honestly but with a long response latency.
	BehaviorSlow Behavior = "slow"
)

// Valid returns true if the behavior is a known value.
func (b Behavior) Valid() bool {
	switch b {
	case BehaviorHonest, BehaviorContrarian, BehaviorSilent, BehaviorByzantine, BehaviorFlaky, BehaviorSlow:
		return true
	default:
		return false
	}
}

// ScriptedAgent configures one simulated agent.
type ScriptedAgent struct {
	// ID is the agent identifier registered with the directory.
	ID string
	// Domain is the work domain the agent serves.
	Domain string
	// Behavior selects the response script.
	Behavior Behavior
	// Latency is the simulated response delay. Zero means immediate.
	Latency time.Duration
	// FailAttempts is how many task executions fail before success
	// (flaky behavior only).
	FailAttempts int
}

// Simulator is an in-process AgentRPC and StatusProvider backed by
// scripted agent behaviors. It replaces randomized mock responses with
// deterministic, per-agent scripts so tests and demo runs are repeatable.
type Simulator struct {
	mu     sync.Mutex
	agents map[string]*scriptedState
	// slowLatency is the delay applied to BehaviorSlow agents that
	// don't set an explicit latency.
	slowLatency time.Duration
}

// scriptedState tracks mutable per-agent simulation state.
type scriptedState struct {
	script    ScriptedAgent
	voteCount int
	execCount int
}

// NewSimulator creates a Simulator with the given scripted agents.
func NewSimulator(agents []ScriptedAgent) *Simulator {
	s := &Simulator{
		agents:      make(map[string]*scriptedState, len(agents)),
		slowLatency: 200 * time.Millisecond,
	}
	for _, a := range agents {
		s.agents[a.ID] = &scriptedState{script: a}
	}
	return s
}

// AddAgent registers an additional scripted agent.
// Replacement workers spawned by the pipeline land here as honest agents
// unless a script already exists for the ID.
func (s *Simulator) AddAgent(a ScriptedAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		s.agents[a.ID] = &scriptedState{script: a}
	}
}

// RequestVote returns the scripted vote for the agent.
func (s *Simulator) RequestVote(ctx context.Context, agentID string, proposal models.Proposal) (models.Vote, error) {
	s.mu.Lock()
	st, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return models.Vote{}, fmt.Errorf("unknown agent %q", agentID)
	}
	st.voteCount++
	count := st.voteCount
	script := st.script
	s.mu.Unlock()

	if script.Behavior == BehaviorSilent {
		<-ctx.Done()
		return models.Vote{}, ctx.Err()
	}

	if script.Behavior != BehaviorByzantine {
		// Byzantine agents answer instantly; everyone else waits out
		// their scripted latency.
		if err := s.sleep(ctx, s.latencyFor(script)); err != nil {
			return models.Vote{}, err
		}
	}

	decision := models.VoteAgree
	reasoning := "proposal looks sound"
	switch script.Behavior {
	case BehaviorContrarian:
		decision = models.VoteDisagree
		reasoning = "proposal conflicts with domain constraints"
	case BehaviorByzantine:
		// Alternate every round: the flip-flop signature.
		if count%2 == 0 {
			decision = models.VoteDisagree
		}
		reasoning = ""
	}

	return models.Vote{
		AgentID:    agentID,
		DecisionID: proposal.DecisionID,
		Decision:   decision,
		Reasoning:  reasoning,
		Timestamp:  time.Now(),
	}, nil
}

// ExecuteTask returns the scripted execution result for the agent.
func (s *Simulator) ExecuteTask(ctx context.Context, agentID string, task models.PipelineTask) (models.TaskResult, error) {
	s.mu.Lock()
	st, ok := s.agents[agentID]
	if !ok {
		// Replacement workers the directory provisioned on the fly are
		// treated as honest.
		st = &scriptedState{script: ScriptedAgent{ID: agentID, Behavior: BehaviorHonest}}
		s.agents[agentID] = st
	}
	st.execCount++
	count := st.execCount
	script := st.script
	s.mu.Unlock()

	if script.Behavior == BehaviorSilent {
		<-ctx.Done()
		return models.TaskResult{}, ctx.Err()
	}

	if err := s.sleep(ctx, s.latencyFor(script)); err != nil {
		return models.TaskResult{}, err
	}

	switch script.Behavior {
	case BehaviorByzantine:
		return models.TaskResult{}, fmt.Errorf("agent %s returned corrupt output", agentID)
	case BehaviorFlaky:
		if count <= script.FailAttempts {
			return models.TaskResult{}, fmt.Errorf("transient failure (attempt %d)", count)
		}
	}

	return models.TaskResult{
		Output:         fmt.Sprintf("remediated %s", task.Target),
		ModifiedTarget: task.Target,
	}, nil
}

// GetAgentStatus reports a healthy status with the scripted latency.
func (s *Simulator) GetAgentStatus(ctx context.Context, agentID string) (AgentStatus, error) {
	s.mu.Lock()
	st, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return AgentStatus{}, fmt.Errorf("unknown agent %q", agentID)
	}

	if st.script.Behavior == BehaviorSilent {
		// Stale heartbeat so the monitor classifies it unhealthy.
		return AgentStatus{LastHeartbeat: time.Now().Add(-5 * time.Minute)}, nil
	}

	return AgentStatus{
		LastHeartbeat: time.Now(),
		ResponseTime:  s.latencyFor(st.script),
		TaskLoad:      0.1,
	}, nil
}

// latencyFor returns the effective response delay for a script.
func (s *Simulator) latencyFor(script ScriptedAgent) time.Duration {
	if script.Latency > 0 {
		return script.Latency
	}
	if script.Behavior == BehaviorSlow {
		return s.slowLatency
	}
	return 0
}

// sleep waits for d or until ctx is cancelled.
func (s *Simulator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
