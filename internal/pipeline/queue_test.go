package pipeline

import (
	"testing"

	"github.com/wagglenet/waggle/pkg/models"
)

func newTask(id, domain string, priority models.TaskPriority) *models.PipelineTask {
	return &models.PipelineTask{ID: id, Domain: domain, Priority: priority}
}

func TestNewQueueDefaultLimit(t *testing.T) {
	if got := NewQueue(0).Limit(); got != DefaultMaxConcurrent {
		t.Errorf("Limit() = %d, want %d", got, DefaultMaxConcurrent)
	}
	if got := NewQueue(-3).Limit(); got != DefaultMaxConcurrent {
		t.Errorf("Limit() = %d, want %d for negative input", got, DefaultMaxConcurrent)
	}
	if got := NewQueue(7).Limit(); got != 7 {
		t.Errorf("Limit() = %d, want 7", got)
	}
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(newTask("m1", "qa", models.PriorityMedium))
	q.Enqueue(newTask("l1", "qa", models.PriorityLow))
	q.Enqueue(newTask("c1", "qa", models.PriorityCritical))
	q.Enqueue(newTask("h1", "qa", models.PriorityHigh))
	q.Enqueue(newTask("m2", "qa", models.PriorityMedium))

	want := []string{"c1", "h1", "m1", "m2", "l1"}
	for i, id := range want {
		task, ok := q.Next("qa")
		if !ok {
			t.Fatalf("Next returned nothing at position %d", i)
		}
		if task.ID != id {
			t.Errorf("pop %d = %q, want %q", i, task.ID, id)
		}
	}
	if _, ok := q.Next("qa"); ok {
		t.Error("Next should return false on an empty queue")
	}
}

func TestNextRespectsCapacity(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 3; i++ {
		q.Enqueue(newTask(string(rune('a'+i)), "qa", models.PriorityMedium))
	}

	if _, ok := q.Next("qa"); !ok {
		t.Fatal("first Next should claim a slot")
	}
	if _, ok := q.Next("qa"); !ok {
		t.Fatal("second Next should claim a slot")
	}
	if _, ok := q.Next("qa"); ok {
		t.Fatal("third Next should be blocked at capacity")
	}

	q.Release("qa")
	if _, ok := q.Next("qa"); !ok {
		t.Fatal("Next should succeed again after Release")
	}

	stats := q.Stats("qa")
	if stats.Active != 2 || stats.Queued != 0 {
		t.Errorf("Stats = %+v, want 2 active, 0 queued", stats)
	}
}

func TestDomainsAreIndependent(t *testing.T) {
	q := NewQueue(1)
	q.Enqueue(newTask("qa1", "qa", models.PriorityMedium))
	q.Enqueue(newTask("sec1", "security", models.PriorityMedium))

	if _, ok := q.Next("qa"); !ok {
		t.Fatal("qa domain should dispatch")
	}
	// qa is now at capacity; security has its own budget.
	if _, ok := q.Next("security"); !ok {
		t.Fatal("security domain should dispatch despite qa being full")
	}

	domains := q.Domains()
	if len(domains) != 2 {
		t.Errorf("Domains() = %v, want two entries", domains)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	q := NewQueue(1)
	q.Release("qa")
	q.Release("qa")
	if stats := q.Stats("qa"); stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}

	q.Enqueue(newTask("t1", "qa", models.PriorityMedium))
	if _, ok := q.Next("qa"); !ok {
		t.Error("Next should still work after spurious releases")
	}
}
