package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wagglenet/waggle/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewStore(db)
}

func terminalTask(id string, submitted time.Time) models.PipelineTask {
	completed := submitted.Add(time.Second)
	return models.PipelineTask{
		ID:          id,
		Target:      "pkg/auth/login.go",
		Domain:      "qa",
		Priority:    models.PriorityHigh,
		Status:      models.TaskStatusCompleted,
		RetryCount:  1,
		Attempts:    []string{"qa-1", "qa-worker-ab12cd34"},
		SubmittedAt: submitted,
		CompletedAt: &completed,
		Result:      &models.TaskResult{Output: "remediated", ModifiedTarget: "pkg/auth/login.go"},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var version int
	row := db.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestRecordAndListTasks(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	if err := s.RecordTask(terminalTask("t1", base)); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}
	if err := s.RecordTask(terminalTask("t2", base.Add(time.Minute))); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}

	tasks, err := s.ListTasks("", 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	// Newest first.
	if tasks[0].ID != "t2" {
		t.Errorf("first task = %s, want t2", tasks[0].ID)
	}

	got := tasks[1]
	if got.Status != "completed" || got.Priority != "high" || got.RetryCount != 1 {
		t.Errorf("row = %+v, want completed/high/1 retry", got)
	}
	if len(got.Attempts) != 2 || got.Attempts[0] != "qa-1" {
		t.Errorf("attempts = %v, want the two recorded workers", got.Attempts)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should round-trip")
	}

	// Re-recording the same ID overwrites, not duplicates.
	if err := s.RecordTask(terminalTask("t1", base)); err != nil {
		t.Fatalf("RecordTask overwrite: %v", err)
	}
	tasks, _ = s.ListTasks("", 0)
	if len(tasks) != 2 {
		t.Errorf("got %d tasks after overwrite, want 2", len(tasks))
	}
}

func TestListTasksDomainFilterAndLimit(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	qa := terminalTask("t1", base)
	sec := terminalTask("t2", base.Add(time.Second))
	sec.Domain = "security"
	if err := s.RecordTask(qa); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordTask(sec); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.ListTasks("security", 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Domain != "security" {
		t.Errorf("filtered tasks = %+v, want one security row", tasks)
	}

	tasks, _ = s.ListTasks("", 1)
	if len(tasks) != 1 {
		t.Errorf("limited tasks = %d rows, want 1", len(tasks))
	}
}

func TestRecordAndListDecisions(t *testing.T) {
	s := newTestStore(t)

	result := models.ConsensusResult{
		DecisionID:      "d1",
		Status:          models.StatusConsensus,
		Decision:        models.DecisionExecute,
		Confidence:      0.8,
		QuorumAchieved:  true,
		Votes:           make([]models.Vote, 5),
		ByzantineAgents: []string{"qa-bad"},
		CompletedAt:     time.Now(),
	}
	if err := s.RecordConsensus(result); err != nil {
		t.Fatalf("RecordConsensus: %v", err)
	}

	decisions, err := s.ListDecisions(0)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
	d := decisions[0]
	if d.Status != "consensus" || !d.QuorumAchieved || d.VoteCount != 5 {
		t.Errorf("row = %+v, want consensus with quorum and 5 votes", d)
	}
	if d.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", d.Confidence)
	}
	if len(d.ByzantineAgents) != 1 || d.ByzantineAgents[0] != "qa-bad" {
		t.Errorf("byzantine agents = %v, want [qa-bad]", d.ByzantineAgents)
	}
}

func TestTrustHistory(t *testing.T) {
	s := newTestStore(t)

	agent := models.Agent{ID: "qa-1", Domain: "qa", Health: models.HealthHealthy}
	for _, score := range []float64{1.0, 0.7, 0.4} {
		agent.TrustScore = score
		agent.Suspicious = score < 0.3
		if err := s.RecordAgentSnapshot(agent); err != nil {
			t.Fatalf("RecordAgentSnapshot: %v", err)
		}
	}

	scores, err := s.TrustHistory("qa-1")
	if err != nil {
		t.Fatalf("TrustHistory: %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("got %d readings, want 3", len(scores))
	}
	if scores[0] != 1.0 || scores[2] != 0.4 {
		t.Errorf("scores = %v, want oldest-first order", scores)
	}
}

func TestPurgeOldTasks(t *testing.T) {
	s := newTestStore(t)

	old := terminalTask("old", time.Now().Add(-48*time.Hour))
	fresh := terminalTask("fresh", time.Now())
	if err := s.RecordTask(old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordTask(fresh); err != nil {
		t.Fatal(err)
	}

	purged, err := s.PurgeOldTasks(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldTasks: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	tasks, _ := s.ListTasks("", 0)
	if len(tasks) != 1 || tasks[0].ID != "fresh" {
		t.Errorf("remaining tasks = %+v, want only fresh", tasks)
	}
}
