package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/wagglenet/waggle/internal/health"
	"github.com/wagglenet/waggle/internal/pipeline"
	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/pkg/models"
)

func newTestSwarm(t *testing.T, scripts []rpc.ScriptedAgent, opts ...Option) *Swarm {
	t.Helper()
	sim := rpc.NewSimulator(scripts)
	s, err := New(RequiredConfig{Transport: sim, Status: sim}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, script := range scripts {
		err := s.RegisterAgent(models.Agent{ID: script.ID, Domain: script.Domain})
		if err != nil {
			t.Fatalf("RegisterAgent(%s): %v", script.ID, err)
		}
	}
	return s
}

func drainUntil(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event arrived", want)
		}
	}
}

func waitTask(t *testing.T, s *Swarm, taskID string) models.PipelineTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := s.GetTaskStatus(taskID)
		if ok && task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", taskID)
	return models.PipelineTask{}
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(RequiredConfig{}); err == nil {
		t.Error("New without transport should fail")
	}
}

func TestConsensusEndToEnd(t *testing.T) {
	scripts := []rpc.ScriptedAgent{
		{ID: "qa-1", Domain: "qa", Behavior: rpc.BehaviorHonest, Latency: 20 * time.Millisecond},
		{ID: "qa-2", Domain: "qa", Behavior: rpc.BehaviorHonest, Latency: 20 * time.Millisecond},
		{ID: "sec-1", Domain: "security", Behavior: rpc.BehaviorHonest, Latency: 20 * time.Millisecond},
		{ID: "sec-2", Domain: "security", Behavior: rpc.BehaviorContrarian, Latency: 20 * time.Millisecond},
		{ID: "perf-1", Domain: "perf", Behavior: rpc.BehaviorHonest, Latency: 20 * time.Millisecond},
	}
	s := newTestSwarm(t, scripts)

	proposal := models.Proposal{
		Domain:         "qa",
		Payload:        "upgrade the linter",
		QuorumFraction: 0.6,
		Timeout:        2 * time.Second,
	}
	result, err := s.AchieveConsensus(context.Background(), proposal, nil)
	if err != nil {
		t.Fatalf("AchieveConsensus: %v", err)
	}

	// 4 of 5 agree, required = ceil(5 * 0.6) = 3.
	if result.Status != models.StatusConsensus {
		t.Errorf("status = %q, want consensus", result.Status)
	}
	if result.Decision != models.DecisionExecute {
		t.Errorf("decision = %q, want execute", result.Decision)
	}

	e := drainUntil(t, s.Events(), EventConsensusCompleted)
	if e.Result == nil || e.Result.DecisionID != result.DecisionID {
		t.Errorf("consensus event carries %+v, want decision %s", e.Result, result.DecisionID)
	}
}

func TestTaskEndToEnd(t *testing.T) {
	scripts := []rpc.ScriptedAgent{
		{ID: "qa-1", Domain: "qa", Behavior: rpc.BehaviorHonest},
	}
	s := newTestSwarm(t, scripts)

	taskID, err := s.SubmitTask("qa", "pkg/auth/login.go", models.PriorityHigh)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	task := waitTask(t, s, taskID)
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %q (%s), want completed", task.Status, task.Error)
	}
	if task.Result == nil || task.Result.ModifiedTarget != "pkg/auth/login.go" {
		t.Errorf("result = %+v, want modified target echoed back", task.Result)
	}

	events := s.Events()
	for _, want := range []EventType{EventTaskQueued, EventTaskStarted, EventTaskCompleted} {
		drainUntil(t, events, want)
	}
}

func TestByzantineWorkerReplaced(t *testing.T) {
	scripts := []rpc.ScriptedAgent{
		{ID: "qa-bad", Domain: "qa", Behavior: rpc.BehaviorByzantine},
	}
	s := newTestSwarm(t, scripts)

	taskID, err := s.SubmitTask("qa", "pkg/auth", models.PriorityMedium)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	task := waitTask(t, s, taskID)
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %q (%s), want completed after replacement", task.Status, task.Error)
	}
	if task.RetryCount == 0 {
		t.Error("RetryCount = 0, want at least one Byzantine retry")
	}
	if task.Attempts[0] != "qa-bad" {
		t.Errorf("first attempt on %q, want qa-bad", task.Attempts[0])
	}

	drainUntil(t, s.Events(), EventAgentProvisioned)

	// The failed worker left the active pool but kept its record.
	bad, ok := s.Directory().Get("qa-bad")
	if !ok {
		t.Fatal("replaced worker should stay registered")
	}
	if bad.Status != models.AgentStatusUnhealthy {
		t.Errorf("replaced worker status = %q, want unhealthy", bad.Status)
	}
}

func TestRatificationRejectsDisputedResult(t *testing.T) {
	scripts := []rpc.ScriptedAgent{
		{ID: "qa-1", Domain: "qa", Behavior: rpc.BehaviorHonest, Latency: 20 * time.Millisecond},
		{ID: "sec-1", Domain: "security", Behavior: rpc.BehaviorContrarian, Latency: 20 * time.Millisecond},
		{ID: "sec-2", Domain: "security", Behavior: rpc.BehaviorContrarian, Latency: 20 * time.Millisecond},
		{ID: "perf-1", Domain: "perf", Behavior: rpc.BehaviorContrarian, Latency: 20 * time.Millisecond},
	}
	cfg := pipeline.DefaultConfig()
	cfg.MaxByzantineRetries = 0
	s := newTestSwarm(t, scripts,
		WithPipelineConfig(cfg),
		WithRatification(RatifyConfig{QuorumFraction: 0.6, Timeout: 2 * time.Second, MinVoters: 2}),
	)

	taskID, err := s.SubmitTask("qa", "pkg/auth", models.PriorityMedium)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	// Contrarians dominate the ratification vote, so the honest worker's
	// result is rejected.
	task := waitTask(t, s, taskID)
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("status = %q, want failed on rejected ratification", task.Status)
	}
}

func TestHealthDegradedEvent(t *testing.T) {
	scripts := []rpc.ScriptedAgent{
		{ID: "qa-1", Domain: "qa", Behavior: rpc.BehaviorSilent},
	}
	cfg := health.DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	s := newTestSwarm(t, scripts, WithHealthConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	e := drainUntil(t, s.Events(), EventHealthDegraded)
	if e.AgentID != "qa-1" || e.Health != models.HealthUnhealthy {
		t.Errorf("degraded event = %+v, want qa-1 unhealthy", e)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
}

func TestSwarmHealthSnapshotIdempotent(t *testing.T) {
	scripts := []rpc.ScriptedAgent{
		{ID: "qa-1", Domain: "qa", Behavior: rpc.BehaviorHonest},
		{ID: "sec-1", Domain: "security", Behavior: rpc.BehaviorHonest},
	}
	s := newTestSwarm(t, scripts)

	first := s.GetSwarmHealth()
	second := s.GetSwarmHealth()

	if len(first.Agents) != 2 || len(second.Agents) != 2 {
		t.Fatalf("snapshots carry %d and %d agents, want 2", len(first.Agents), len(second.Agents))
	}
	for i := range first.Agents {
		if first.Agents[i] != second.Agents[i] {
			t.Errorf("agent row %d changed between snapshots: %+v vs %+v", i, first.Agents[i], second.Agents[i])
		}
	}
	if first.Consensus != second.Consensus {
		t.Errorf("consensus stats changed between snapshots")
	}
}
