package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagglenet/waggle/internal/directory"
	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/pkg/models"
)

// Config holds the manager's retry and timeout parameters.
type Config struct {
	// MaxConcurrent is the per-domain concurrent task limit.
	MaxConcurrent int
	// MaxByzantineRetries is how many times a failed task is retried
	// with a replacement worker before it is marked failed.
	MaxByzantineRetries int
	// TaskTimeout bounds a single execution attempt.
	TaskTimeout time.Duration
}

// DefaultConfig returns the standard pipeline parameters.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:       DefaultMaxConcurrent,
		MaxByzantineRetries: 2,
		TaskTimeout:         time.Minute,
	}
}

// Ratifier optionally validates a completed task's result, e.g. by
// putting it to a consensus vote. Returning an error fails the attempt.
type Ratifier func(ctx context.Context, task models.PipelineTask, result models.TaskResult) error

// TaskEvent describes a task lifecycle transition for observers.
type TaskEvent struct {
	// Type is one of queued, started, completed, failed.
	Type string
	// Task is a snapshot of the task at the transition.
	Task models.PipelineTask
}

// Manager dequeues tasks respecting capacity, dispatches them to domain
// workers, and applies timeout plus Byzantine retry. Capacity is always
// released in a final step, and the next queued task in the domain is
// always dispatched afterwards, regardless of outcome.
type Manager struct {
	queue    *Queue
	dir      *directory.Directory
	agentRPC rpc.AgentRPC
	cfg      Config

	mu      sync.Mutex
	tasks   map[string]*models.PipelineTask
	history map[string][]*models.PipelineTask
	paused  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// ratify optionally validates completions. Optional.
	ratify Ratifier
	// onEvent receives lifecycle events. Optional.
	onEvent func(TaskEvent)
	// onTerminal receives terminal task snapshots for recording. Optional.
	onTerminal func(models.PipelineTask)
}

// NewManager creates a Manager over the directory and transport.
func NewManager(dir *directory.Directory, agentRPC rpc.AgentRPC, cfg Config) *Manager {
	if cfg.MaxByzantineRetries < 0 {
		cfg.MaxByzantineRetries = 0
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		queue:    NewQueue(cfg.MaxConcurrent),
		dir:      dir,
		agentRPC: agentRPC,
		cfg:      cfg,
		tasks:    make(map[string]*models.PipelineTask),
		history:  make(map[string][]*models.PipelineTask),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetRatifier installs the optional completion ratifier.
// Must be set before tasks are submitted.
func (m *Manager) SetRatifier(fn Ratifier) { m.ratify = fn }

// SetEventHook installs the lifecycle event callback.
// Must be set before tasks are submitted.
func (m *Manager) SetEventHook(fn func(TaskEvent)) { m.onEvent = fn }

// SetTerminalHook installs the terminal-task recording callback.
// Must be set before tasks are submitted.
func (m *Manager) SetTerminalHook(fn func(models.PipelineTask)) { m.onTerminal = fn }

// Queue exposes the capacity controller for snapshots.
func (m *Manager) Queue() *Queue { return m.queue }

// SubmitTask enqueues a task and returns its ID immediately. The result
// is retrieved later via GetTaskStatus or the completion event. Unknown
// or empty inputs fail fast before any work is dispatched.
func (m *Manager) SubmitTask(domain, target string, priority models.TaskPriority) (string, error) {
	if domain == "" {
		return "", fmt.Errorf("domain is empty")
	}
	if target == "" {
		return "", fmt.Errorf("target is empty")
	}

	task := &models.PipelineTask{
		ID:          uuid.New().String()[:8],
		Target:      target,
		Domain:      domain,
		Priority:    priority,
		Status:      models.TaskStatusQueued,
		Timeout:     m.cfg.TaskTimeout,
		SubmittedAt: time.Now(),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.queue.Enqueue(task)
	m.emit("task.queued", task)
	m.dispatch(domain)
	return task.ID, nil
}

// GetTaskStatus returns a snapshot of the task's current state.
func (m *Manager) GetTaskStatus(taskID string) (models.PipelineTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return models.PipelineTask{}, false
	}
	return *task, true
}

// DomainHistory returns snapshots of the domain's terminal tasks.
func (m *Manager) DomainHistory(domain string) []models.PipelineTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PipelineTask, 0, len(m.history[domain]))
	for _, t := range m.history[domain] {
		out = append(out, *t)
	}
	return out
}

// PurgeHistory drops the domain's terminal task records and returns how
// many were removed. Running and queued tasks are unaffected.
func (m *Manager) PurgeHistory(domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := len(m.history[domain])
	for _, t := range m.history[domain] {
		delete(m.tasks, t.ID)
	}
	delete(m.history, domain)
	return purged
}

// Pause stops dispatching new tasks; running tasks drain normally.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	log.Printf("[pipeline] dispatch paused")
}

// Resume restarts dispatch in every known domain.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	log.Printf("[pipeline] dispatch resumed")
	for _, domain := range m.queue.Domains() {
		m.dispatch(domain)
	}
}

// Stop cancels running tasks and waits for their goroutines to finish.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// dispatch starts execution goroutines for as many queued tasks as the
// domain's capacity allows.
func (m *Manager) dispatch(domain string) {
	m.mu.Lock()
	paused := m.paused
	m.mu.Unlock()
	if paused {
		return
	}

	for {
		task, ok := m.queue.Next(domain)
		if !ok {
			return
		}
		m.wg.Add(1)
		go func(t *models.PipelineTask) {
			defer m.wg.Done()
			m.executeTask(t)
		}(task)
	}
}

// executeTask runs one task through its attempts, then releases the
// capacity slot and dispatches the next queued task in the domain.
func (m *Manager) executeTask(task *models.PipelineTask) {
	defer func() {
		m.queue.Release(task.Domain)
		m.dispatch(task.Domain)
	}()

	now := time.Now()
	m.mu.Lock()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	m.mu.Unlock()
	m.emit("task.started", task)

	worker, err := m.dir.WorkerFor(task.Domain)
	if err != nil {
		m.finish(task, nil, fmt.Errorf("no worker available: %w", err))
		return
	}

	var lastErr error
	for {
		m.mu.Lock()
		task.AssignedTo = worker.ID
		task.Attempts = append(task.Attempts, worker.ID)
		retries := task.RetryCount
		m.mu.Unlock()

		result, err := m.attempt(task, worker.ID)
		if err == nil {
			m.finish(task, &result, nil)
			return
		}
		lastErr = err
		log.Printf("[pipeline] task %s attempt %d on %s failed: %v", task.ID, retries+1, worker.ID, err)

		if retries >= m.cfg.MaxByzantineRetries {
			break
		}

		// The failing worker is assumed potentially Byzantine: drop it
		// from the domain pool and retry on a fresh one.
		replacement, repErr := m.dir.ReplaceWorker(task.Domain, worker.ID)
		if repErr != nil {
			lastErr = fmt.Errorf("replace worker: %w", repErr)
			break
		}
		worker = replacement

		m.mu.Lock()
		task.RetryCount++
		m.mu.Unlock()
	}

	m.finish(task, nil, lastErr)
}

// attempt runs a single bounded execution on the given worker and
// validates the result. Transport failures and rejected results come
// back as errors, never as panics or partial state.
func (m *Manager) attempt(task *models.PipelineTask, workerID string) (models.TaskResult, error) {
	m.dir.SetBusy(workerID, true)
	defer m.dir.SetBusy(workerID, false)

	attemptCtx, cancel := context.WithTimeout(m.ctx, task.Timeout)
	defer cancel()

	m.mu.Lock()
	snapshot := *task
	m.mu.Unlock()

	start := time.Now()
	result, err := m.agentRPC.ExecuteTask(attemptCtx, workerID, snapshot)
	elapsed := time.Since(start)

	m.dir.Update(workerID, func(a *models.Agent) {
		a.ResponseTime = elapsed
		a.LastHeartbeat = time.Now()
	})

	if err != nil {
		if attemptCtx.Err() != nil {
			return models.TaskResult{}, fmt.Errorf("execution timed out after %s", task.Timeout)
		}
		return models.TaskResult{}, err
	}

	if err := validateResult(task, result); err != nil {
		return models.TaskResult{}, err
	}

	if m.ratify != nil {
		if err := m.ratify(attemptCtx, snapshot, result); err != nil {
			return models.TaskResult{}, fmt.Errorf("result not ratified: %w", err)
		}
	}

	return result, nil
}

// validateResult applies the minimal acceptance checks: non-empty
// output, the modified target reference present, and no reported error.
func validateResult(task *models.PipelineTask, result models.TaskResult) error {
	if result.Error != "" {
		return fmt.Errorf("worker reported error: %s", result.Error)
	}
	if strings.TrimSpace(result.Output) == "" {
		return fmt.Errorf("worker returned empty output")
	}
	if result.ModifiedTarget == "" || !strings.Contains(result.ModifiedTarget, task.Target) {
		return fmt.Errorf("result does not reference target %q", task.Target)
	}
	return nil
}

// finish moves the task to its terminal state and records it.
func (m *Manager) finish(task *models.PipelineTask, result *models.TaskResult, err error) {
	now := time.Now()

	m.mu.Lock()
	task.CompletedAt = &now
	task.AssignedTo = ""
	if err != nil {
		task.Status = models.TaskStatusFailed
		task.Error = err.Error()
	} else {
		task.Status = models.TaskStatusCompleted
		task.Result = result
	}
	m.history[task.Domain] = append(m.history[task.Domain], task)
	snapshot := *task
	m.mu.Unlock()

	if err != nil {
		m.emit("task.failed", task)
	} else {
		m.emit("task.completed", task)
	}
	if m.onTerminal != nil {
		m.onTerminal(snapshot)
	}
}

// emit sends a lifecycle event with a snapshot of the task.
func (m *Manager) emit(eventType string, task *models.PipelineTask) {
	if m.onEvent == nil {
		return
	}
	m.mu.Lock()
	snapshot := *task
	m.mu.Unlock()
	m.onEvent(TaskEvent{Type: eventType, Task: snapshot})
}
