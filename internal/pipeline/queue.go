// Package pipeline dispatches bounded-concurrency tasks to per-domain
// worker pools, retrying failures by replacing the worker (a failure is
// treated as a potential Byzantine event, not a transient glitch).
package pipeline

import (
	"sync"

	"github.com/wagglenet/waggle/pkg/models"
)

// DefaultMaxConcurrent is the per-domain concurrent task limit.
const DefaultMaxConcurrent = 4

// QueueStats is a point-in-time view of one domain's queue.
type QueueStats struct {
	// Queued is the number of tasks waiting for a capacity slot.
	Queued int
	// Active is the number of tasks holding a capacity slot.
	Active int
}

// Queue is the per-domain priority queue and capacity controller.
// Each domain has its own lock so dispatch decisions in unrelated
// domains never serialize on each other. Capacity is the only
// backpressure mechanism: enqueueing never blocks the caller.
type Queue struct {
	// mu guards the domains map itself.
	mu      sync.RWMutex
	limit   int
	domains map[string]*domainQueue
}

// domainQueue holds one domain's pending tasks and capacity count.
type domainQueue struct {
	mu      sync.Mutex
	pending []*models.PipelineTask
	active  int
}

// NewQueue creates a Queue with the given per-domain concurrency limit.
// Non-positive limits fall back to the default.
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Queue{
		limit:   maxConcurrent,
		domains: make(map[string]*domainQueue),
	}
}

// Limit returns the per-domain concurrency limit.
func (q *Queue) Limit() int { return q.limit }

// Enqueue appends the task to its domain queue, keeping the queue
// ordered by priority with FIFO ordering within the same priority.
func (q *Queue) Enqueue(task *models.PipelineTask) {
	dq := q.domain(task.Domain)
	dq.mu.Lock()
	defer dq.mu.Unlock()

	// Insert before the first lower-priority task; equal priorities
	// stay in arrival order.
	idx := len(dq.pending)
	for i, t := range dq.pending {
		if task.Priority < t.Priority {
			idx = i
			break
		}
	}
	dq.pending = append(dq.pending, nil)
	copy(dq.pending[idx+1:], dq.pending[idx:])
	dq.pending[idx] = task
}

// Next pops the highest-priority pending task if the domain has a free
// capacity slot, claiming the slot. Returns false when the domain is at
// capacity or has nothing queued.
func (q *Queue) Next(domain string) (*models.PipelineTask, bool) {
	dq := q.domain(domain)
	dq.mu.Lock()
	defer dq.mu.Unlock()

	if dq.active >= q.limit || len(dq.pending) == 0 {
		return nil, false
	}
	task := dq.pending[0]
	dq.pending = dq.pending[1:]
	dq.active++
	return task, true
}

// Release returns the domain's capacity slot claimed by Next.
func (q *Queue) Release(domain string) {
	dq := q.domain(domain)
	dq.mu.Lock()
	defer dq.mu.Unlock()
	if dq.active > 0 {
		dq.active--
	}
}

// Stats returns the domain's current queue depth and active count.
func (q *Queue) Stats(domain string) QueueStats {
	dq := q.domain(domain)
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return QueueStats{Queued: len(dq.pending), Active: dq.active}
}

// Domains returns the names of all domains the queue has seen.
func (q *Queue) Domains() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.domains))
	for name := range q.domains {
		names = append(names, name)
	}
	return names
}

// domain returns the domain's queue, creating it on first use.
func (q *Queue) domain(name string) *domainQueue {
	q.mu.RLock()
	dq := q.domains[name]
	q.mu.RUnlock()
	if dq != nil {
		return dq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if dq = q.domains[name]; dq == nil {
		dq = &domainQueue{}
		q.domains[name] = dq
	}
	return dq
}
