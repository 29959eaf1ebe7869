package models

import "time"

// TaskStatus represents the current state of a pipeline task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for a capacity slot.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task is executing on a worker.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished and passed validation.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task exhausted its retries.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the task can no longer change state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskPriority orders tasks within a domain queue.
// Lower values dispatch first.
type TaskPriority int

const (
	// PriorityCritical is dispatched before everything else.
	PriorityCritical TaskPriority = iota
	// PriorityHigh is dispatched before medium and low.
	PriorityHigh
	// PriorityMedium is the default priority.
	PriorityMedium
	// PriorityLow is dispatched last.
	PriorityLow
)

// String returns a human-readable priority name.
func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a TaskPriority.
// Unknown names map to PriorityMedium.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// TaskResult is the payload a worker returns for a completed task.
type TaskResult struct {
	// Output is the worker's report of what it did.
	Output string `json:"output"`
	// ModifiedTarget is the target reference the worker changed.
	ModifiedTarget string `json:"modified_target,omitempty"`
	// Error is the worker-reported failure, if any.
	Error string `json:"error,omitempty"`
}

// PipelineTask is a unit of work dispatched to a domain worker.
type PipelineTask struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Target is the reference the task operates on (e.g., a file path).
	Target string `json:"target"`
	// Domain selects the worker pool and capacity budget.
	Domain string `json:"domain"`
	// Priority orders the task within its domain queue.
	Priority TaskPriority `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the worker currently executing the task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Timeout bounds a single execution attempt.
	Timeout time.Duration `json:"timeout"`
	// RetryCount is the number of Byzantine retries consumed.
	RetryCount int `json:"retry_count"`
	// SubmittedAt is when the task entered the queue.
	SubmittedAt time.Time `json:"submitted_at"`
	// StartedAt is when the task first began executing.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is the accepted worker output, set on completion.
	Result *TaskResult `json:"result,omitempty"`
	// Error is the last failure message, set on failed tasks.
	Error string `json:"error,omitempty"`
	// Attempts lists the worker IDs used, one per attempt.
	Attempts []string `json:"attempts,omitempty"`
}
