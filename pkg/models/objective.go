package models

import "time"

// Strategy names the decomposition recipe for an objective. Each strategy
// expands into a fixed task skeleton.
type Strategy string

const (
	// StrategyAuto analyzes, plans, executes and validates.
	StrategyAuto Strategy = "auto"
	// StrategyResearch gathers findings, analyzes them and documents the result.
	StrategyResearch Strategy = "research"
	// StrategyDevelopment designs, implements, tests, reviews and documents.
	StrategyDevelopment Strategy = "development"
	// StrategyAnalysis collects data, analyzes it and reports.
	StrategyAnalysis Strategy = "analysis"
	// StrategyTesting plans tests, runs them and reports results.
	StrategyTesting Strategy = "testing"
	// StrategyOptimization profiles, optimizes and benchmarks.
	StrategyOptimization Strategy = "optimization"
	// StrategyMaintenance audits, patches and verifies.
	StrategyMaintenance Strategy = "maintenance"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyResearch, StrategyDevelopment, StrategyAnalysis,
		StrategyTesting, StrategyOptimization, StrategyMaintenance:
		return true
	default:
		return false
	}
}

// Strategies returns all known strategies in a stable order.
func Strategies() []Strategy {
	return []Strategy{
		StrategyAuto, StrategyResearch, StrategyDevelopment, StrategyAnalysis,
		StrategyTesting, StrategyOptimization, StrategyMaintenance,
	}
}

// ObjectiveStatus represents the lifecycle state of an objective.
type ObjectiveStatus string

const (
	// ObjectivePending indicates the objective is created but not executing.
	ObjectivePending ObjectiveStatus = "pending"
	// ObjectiveRunning indicates the scheduling loop is driving the objective.
	ObjectiveRunning ObjectiveStatus = "running"
	// ObjectiveCompleted indicates the objective finished successfully.
	ObjectiveCompleted ObjectiveStatus = "completed"
	// ObjectiveFailed indicates the objective failed permanently.
	ObjectiveFailed ObjectiveStatus = "failed"
	// ObjectiveTimedOut indicates the objective exceeded its wall-clock limit.
	ObjectiveTimedOut ObjectiveStatus = "timed_out"
)

// Valid returns true if the status is a known value.
func (s ObjectiveStatus) Valid() bool {
	switch s {
	case ObjectivePending, ObjectiveRunning, ObjectiveCompleted,
		ObjectiveFailed, ObjectiveTimedOut:
		return true
	default:
		return false
	}
}

// Terminal returns true once the objective can never change state again.
func (s ObjectiveStatus) Terminal() bool {
	return s == ObjectiveCompleted || s == ObjectiveFailed || s == ObjectiveTimedOut
}

// Requirements constrains how an objective may be decomposed and executed.
type Requirements struct {
	// MinAgents is the minimum number of registered agents required to execute.
	MinAgents int `json:"min_agents,omitempty"`
	// MaxAgents caps how many agents the objective may use.
	MaxAgents int `json:"max_agents,omitempty"`
	// RequiredTags are appended to every decomposed task's required tags.
	RequiredTags []string `json:"required_tags,omitempty"`
	// QualityThreshold is the completed-task ratio in [0, 1] a soft-fail run
	// must reach to count as completed.
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	// MaxDuration is the wall-clock budget for the whole objective.
	// Zero falls back to the engine-wide configuration.
	MaxDuration time.Duration `json:"max_duration,omitempty"`
}

// Objective is a top-level unit of work submitted by a user and decomposed
// into tasks. Status transitions are driven only by the coordinator and the
// record is immutable once terminal.
type Objective struct {
	// ID is the unique identifier for this objective.
	ID string `json:"id"`
	// Name is the short label for the objective.
	Name string `json:"name"`
	// Description provides the full objective text.
	Description string `json:"description,omitempty"`
	// Strategy selects the decomposition skeleton.
	Strategy Strategy `json:"strategy"`
	// Requirements constrains decomposition and execution.
	Requirements Requirements `json:"requirements"`
	// Status is the current lifecycle state.
	Status ObjectiveStatus `json:"status"`
	// TaskIDs lists the tasks owned by this objective.
	TaskIDs []string `json:"task_ids,omitempty"`
	// Error explains a failed or timed_out terminal state.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the objective was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the objective reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
