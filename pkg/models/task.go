package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are completed and the task
	// is eligible for assignment.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusAssigned indicates the task has been matched to an agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusRunning indicates the task is being executed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusAssigned,
		TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is completed or failed.
// Terminal tasks are never mutated again.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ResourceUsage reports what a task execution consumed. The supervisor
// compares it against the executing agent's declared budgets.
type ResourceUsage struct {
	// MemoryBytes is the peak memory attributed to the execution.
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
	// CPUTime is the CPU time attributed to the execution.
	CPUTime time.Duration `json:"cpu_time,omitempty"`
}

// TaskResult is the opaque outcome of a successful task execution.
type TaskResult struct {
	// AgentID is the agent that produced the result.
	AgentID string `json:"agent_id"`
	// Summary is a short human-readable description of the outcome.
	Summary string `json:"summary,omitempty"`
	// Payload is the raw result, opaque to the engine.
	Payload []byte `json:"payload,omitempty"`
	// Usage reports the resources consumed producing the result.
	Usage ResourceUsage `json:"usage,omitempty"`
	// Duration is how long the execution took.
	Duration time.Duration `json:"duration,omitempty"`
}

// Task represents an atomic unit of work owned by an objective.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ObjectiveID is the objective this task belongs to.
	ObjectiveID string `json:"objective_id"`
	// Name is the short description of the task.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// RequiredTags lists capability tags an agent must declare to run this task.
	RequiredTags []string `json:"required_tags,omitempty"`
	// Priority orders ready tasks; higher values dispatch first.
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the agent executing this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// HomeAgent is the agent queue the task was originally placed on.
	// Only meaningful under work-stealing assignment.
	HomeAgent string `json:"home_agent,omitempty"`
	// RetryCount is the number of times this task has been re-enqueued.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedSeq is a monotonic sequence number used for FIFO tie-breaks.
	CreatedSeq uint64 `json:"created_seq"`
	// Result holds the outcome of the last successful execution.
	Result *TaskResult `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task first transitioned to running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
