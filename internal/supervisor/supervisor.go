// Package supervisor executes dispatched tasks: it claims the agent's slot,
// runs the task under a timeout and the agent's resource budgets, and reports
// the outcome back to the caller's completion channel. A per-agent circuit
// breaker suspends agents that fail repeatedly.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/pkg/models"
)

// TaskTimeoutError reports a task execution reclaimed at the timeout
// boundary. It feeds the retry policy and never propagates to callers.
type TaskTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("supervisor: task %s timed out after %s", e.TaskID, e.Timeout)
}

// BudgetExceededError reports an execution that finished but consumed more
// than the agent's declared budget. Treated as a failure by the retry policy.
type BudgetExceededError struct {
	TaskID   string
	Resource string
	Used     string
	Budget   string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("supervisor: task %s exceeded %s budget (%s > %s)",
		e.TaskID, e.Resource, e.Used, e.Budget)
}

// TaskRunner performs the actual work of a task on behalf of an agent. The
// engine treats the implementation as opaque; it only sees the result, the
// error, and the reported resource usage.
type TaskRunner interface {
	Run(ctx context.Context, task models.Task, agent registry.AgentView) (*models.TaskResult, error)
}

// RunnerFunc adapts a function to the TaskRunner interface.
type RunnerFunc func(ctx context.Context, task models.Task, agent registry.AgentView) (*models.TaskResult, error)

// Run implements TaskRunner.
func (f RunnerFunc) Run(ctx context.Context, task models.Task, agent registry.AgentView) (*models.TaskResult, error) {
	return f(ctx, task, agent)
}

// Outcome is the result of one dispatch, delivered on the completion channel
// the caller supplied.
type Outcome struct {
	Task    models.Task
	AgentID string
	Result  *models.TaskResult
	Err     error
	// TimedOut marks an execution reclaimed at the timeout boundary.
	TimedOut bool
	// Tripped marks an outcome that pushed the agent over the breaker
	// threshold and suspended it.
	Tripped bool
	// Stolen carries the assignment's work-stealing flag through.
	Stolen bool
}

// Options configures a Supervisor.
type Options struct {
	// TaskTimeout bounds a single execution. Zero disables the timeout.
	TaskTimeout time.Duration
	// BreakerThreshold is the consecutive-failure count that trips the
	// per-agent circuit breaker. Zero disables the breaker.
	BreakerThreshold int
	// BreakerCooldown is how long a tripped agent stays suspended.
	BreakerCooldown time.Duration
	// ResultTTL bounds how long task results live in the memory store.
	// Zero keeps them for the whole run.
	ResultTTL time.Duration
}

// Supervisor dispatches tasks to agents. It owns no task state: the scheduler
// transitions tasks, the registry accounts slots, the supervisor only runs
// work and classifies what came back.
type Supervisor struct {
	runner TaskRunner
	reg    *registry.Registry
	store  *memory.Store
	opts   Options

	mu      sync.Mutex
	streaks map[string]int // consecutive failures per agent

	wg sync.WaitGroup
}

// New creates a Supervisor. store may be nil when results should not be
// written to shared memory (dry runs, some tests).
func New(runner TaskRunner, reg *registry.Registry, store *memory.Store, opts Options) *Supervisor {
	return &Supervisor{
		runner:  runner,
		reg:     reg,
		store:   store,
		opts:    opts,
		streaks: make(map[string]int),
	}
}

// Dispatch claims the agent's slot and starts the task in its own goroutine.
// It returns false without side effects when the slot claim loses the race;
// the caller returns the task to ready and retries next tick. The outcome
// arrives on done; namespace is where a successful result is written.
func (s *Supervisor) Dispatch(ctx context.Context, a scheduler.Assignment, agent registry.AgentView, namespace string, done chan<- Outcome) bool {
	if !s.reg.TryAcquire(a.AgentID) {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.reg.Release(a.AgentID)

		out := s.execute(ctx, a.Task, agent)
		out.Stolen = a.Stolen

		if out.Err == nil && s.store != nil {
			s.writeResult(ctx, namespace, a.Task, out.Result)
		}
		out.Tripped = s.recordOutcome(a.AgentID, out.Err)

		select {
		case done <- out:
		case <-ctx.Done():
		}
	}()
	return true
}

// execute runs the task under the timeout and checks the agent's budgets.
func (s *Supervisor) execute(ctx context.Context, task models.Task, agent registry.AgentView) Outcome {
	runCtx := ctx
	var cancel context.CancelFunc
	if s.opts.TaskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.runner.Run(runCtx, task, agent)
	elapsed := time.Since(start)

	out := Outcome{Task: task, AgentID: agent.ID, Result: result, Err: err}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() == context.DeadlineExceeded {
			out.TimedOut = true
			out.Err = &TaskTimeoutError{TaskID: task.ID, Timeout: s.opts.TaskTimeout}
		}
		return out
	}

	if result == nil {
		result = &models.TaskResult{AgentID: agent.ID}
		out.Result = result
	}
	if result.Duration == 0 {
		result.Duration = elapsed
	}
	if result.AgentID == "" {
		result.AgentID = agent.ID
	}

	if err := checkBudgets(task.ID, result.Usage, agent); err != nil {
		out.Result = nil
		out.Err = err
	}
	return out
}

// checkBudgets compares reported usage against the agent's declared ceilings.
// These are monitoring limits: the work already ran, an overrun just fails
// the attempt.
func checkBudgets(taskID string, usage models.ResourceUsage, agent registry.AgentView) error {
	if agent.MemoryBudget > 0 && usage.MemoryBytes > agent.MemoryBudget {
		return &BudgetExceededError{
			TaskID:   taskID,
			Resource: "memory",
			Used:     fmt.Sprintf("%dB", usage.MemoryBytes),
			Budget:   fmt.Sprintf("%dB", agent.MemoryBudget),
		}
	}
	if agent.TimeBudget > 0 && usage.CPUTime > agent.TimeBudget {
		return &BudgetExceededError{
			TaskID:   taskID,
			Resource: "cpu time",
			Used:     usage.CPUTime.String(),
			Budget:   agent.TimeBudget.String(),
		}
	}
	return nil
}

// recordOutcome updates the agent's failure streak and trips the breaker when
// the streak reaches the threshold. A success resets the streak.
func (s *Supervisor) recordOutcome(agentID string, failure error) bool {
	if s.opts.BreakerThreshold <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if failure == nil {
		s.streaks[agentID] = 0
		return false
	}

	s.streaks[agentID]++
	if s.streaks[agentID] < s.opts.BreakerThreshold {
		return false
	}
	s.streaks[agentID] = 0

	until := time.Now().Add(s.opts.BreakerCooldown)
	if err := s.reg.Suspend(agentID, until); err != nil {
		log.Printf("[supervisor] suspend agent %s: %v", agentID, err)
		return false
	}
	log.Printf("[supervisor] circuit breaker tripped for agent %s, cooling down %s",
		agentID, s.opts.BreakerCooldown)
	return true
}

// writeResult records a completed task's result in the objective's namespace.
// Memory failures are logged, never propagated: the result still counts.
func (s *Supervisor) writeResult(ctx context.Context, namespace string, task models.Task, result *models.TaskResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Printf("[supervisor] marshal result for task %s: %v", task.ID, err)
		return
	}
	key := "task:" + task.ID
	if _, err := s.store.PutOwned(ctx, namespace, key, payload, s.opts.ResultTTL, result.AgentID); err != nil {
		log.Printf("[supervisor] store result for task %s: %v", task.ID, err)
	}
}

// Wait blocks until every in-flight dispatch has delivered its outcome or
// abandoned it to a cancelled context.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
