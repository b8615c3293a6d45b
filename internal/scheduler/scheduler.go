// Package scheduler owns the task table and turns ready tasks into agent
// assignments under a selectable policy. Task status transitions happen here
// and nowhere else; the dependency graph supplies readiness, the registry
// supplies consistent agent snapshots.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/pkg/models"
)

// NoEligibleAgentError reports a ready task no registered agent can serve.
// It signals backpressure for events and metrics: the task is retried on the
// next tick, the error never propagates to callers.
type NoEligibleAgentError struct {
	TaskID   string
	Required []string
}

func (e *NoEligibleAgentError) Error() string {
	return fmt.Sprintf("scheduler: no eligible agent for task %s (requires %v)", e.TaskID, e.Required)
}

// Assignment pairs a ready task with the agent chosen to run it.
type Assignment struct {
	Task    models.Task
	AgentID string
	// Stolen marks an assignment claimed from another agent's home queue.
	Stolen bool
}

// TickResult is the outcome of one scheduling pass.
type TickResult struct {
	Assignments []Assignment
	// Starved lists ready tasks that found no eligible agent this tick.
	Starved []string
}

// Counts summarizes task states, either per objective or run-wide.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Assigned  int `json:"assigned"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Terminal reports whether every task has finished, one way or the other.
func (c Counts) Terminal() bool {
	return c.Total > 0 && c.Completed+c.Failed == c.Total
}

// Stuck reports whether no task can make progress: nothing is dispatched or
// dispatchable, yet unfinished tasks remain.
func (c Counts) Stuck() bool {
	return !c.Terminal() && c.Ready == 0 && c.Assigned == 0 && c.Running == 0
}

// Scheduler holds every task of the run, keyed by id, plus the dependency
// graph that drives readiness. One Tick per interval proposes assignments;
// the actual slot claim happens at dispatch through the registry's CAS, so a
// lost race simply returns the task to ready.
type Scheduler struct {
	mu     sync.RWMutex
	policy config.AssignmentPolicy

	maxTasks int
	tasks    map[string]*models.Task
	order    []string
	graph    *graph.DependencyGraph

	seq atomic.Uint64
}

// New creates a Scheduler for the given assignment policy. maxTasks caps the
// total number of tasks accepted over the run.
func New(policy config.AssignmentPolicy, maxTasks int) *Scheduler {
	return &Scheduler{
		policy:   policy,
		maxTasks: maxTasks,
		tasks:    make(map[string]*models.Task),
		graph:    graph.New(),
	}
}

// Add registers a batch of tasks, stamping each with a run-wide sequence
// number for FIFO tie-breaks. The batch is rejected whole if it would exceed
// maxTasks or break the dependency graph.
func (s *Scheduler) Add(tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order)+len(tasks) > s.maxTasks {
		return fmt.Errorf("scheduler: task limit %d exceeded", s.maxTasks)
	}
	if err := s.graph.Add(tasks); err != nil {
		return err
	}

	for _, t := range tasks {
		t.CreatedSeq = s.seq.Add(1)
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	return nil
}

// slot tracks an agent's virtual capacity within one tick: the snapshot load
// plus assignments made so far this pass.
type slot struct {
	view registry.AgentView
	load int
}

func (sl *slot) canAccept() bool {
	return sl.view.Availability != models.AvailabilityUnavailable &&
		!sl.view.ManualBusy &&
		sl.load < sl.view.MaxConcurrent
}

// Tick runs one scheduling pass over the ready tasks of active objectives
// against a consistent agent snapshot. Tasks that find no agent stay ready
// and are listed in Starved; that is backpressure, not failure.
func (s *Scheduler) Tick(views []registry.AgentView, active map[string]struct{}) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*models.Task
	for _, id := range s.graph.ReadyIDs() {
		t := s.tasks[id]
		if t == nil {
			continue
		}
		if _, ok := active[t.ObjectiveID]; !ok {
			continue
		}
		if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusReady {
			continue
		}
		ready = append(ready, t)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].CreatedSeq < ready[j].CreatedSeq
	})

	slots := make([]*slot, len(views))
	for i, v := range views {
		slots[i] = &slot{view: v, load: v.Load}
	}

	var result TickResult
	assign := func(t *models.Task, sl *slot, stolen bool) {
		t.Status = models.TaskStatusAssigned
		t.AssignedTo = sl.view.ID
		sl.load++
		result.Assignments = append(result.Assignments, Assignment{
			Task:    cloneTask(t),
			AgentID: sl.view.ID,
			Stolen:  stolen,
		})
	}

	switch s.policy {
	case config.AssignPriority:
		s.tickPriority(ready, slots, assign)
	case config.AssignWorkStealing:
		s.tickWorkStealing(ready, slots, assign)
	default:
		s.tickCapability(ready, slots, assign)
	}

	for _, t := range ready {
		if t.Status != models.TaskStatusAssigned {
			result.Starved = append(result.Starved, t.ID)
		}
	}
	return result
}

// pick chooses the best eligible slot for a task: highest reliability, then
// lowest load, then registration order.
func pick(slots []*slot, t *models.Task) *slot {
	var best *slot
	for _, sl := range slots {
		if !sl.canAccept() || !sl.view.HasAll(t.RequiredTags) {
			continue
		}
		switch {
		case best == nil:
			best = sl
		case sl.view.Reliability > best.view.Reliability:
			best = sl
		case sl.view.Reliability == best.view.Reliability && sl.load < best.load:
			best = sl
		}
	}
	return best
}

// tickCapability walks ready tasks in FIFO order and assigns each to the
// best capable agent.
func (s *Scheduler) tickCapability(ready []*models.Task, slots []*slot, assign func(*models.Task, *slot, bool)) {
	for _, t := range ready {
		if sl := pick(slots, t); sl != nil {
			assign(t, sl, false)
		}
	}
}

// tickPriority dispatches the highest-priority ready task first across all
// agents; ties break FIFO by sequence number.
func (s *Scheduler) tickPriority(ready []*models.Task, slots []*slot, assign func(*models.Task, *slot, bool)) {
	byPriority := append([]*models.Task(nil), ready...)
	sort.SliceStable(byPriority, func(i, j int) bool {
		if byPriority[i].Priority != byPriority[j].Priority {
			return byPriority[i].Priority > byPriority[j].Priority
		}
		return byPriority[i].CreatedSeq < byPriority[j].CreatedSeq
	})

	for _, t := range byPriority {
		if sl := pick(slots, t); sl != nil {
			assign(t, sl, false)
		}
	}
}

// tickWorkStealing gives every task a home queue on the least-loaded eligible
// agent, drains each agent's own queue FIFO, then lets idle agents steal the
// newest ready task from the most-backlogged compatible peer. Every claim is
// still capped by the thief's MaxConcurrentTasks.
func (s *Scheduler) tickWorkStealing(ready []*models.Task, slots []*slot, assign func(*models.Task, *slot, bool)) {
	// Home assignment is sticky: set when the task first becomes ready with
	// an eligible agent present, kept across requeues.
	for _, t := range ready {
		if t.HomeAgent != "" {
			continue
		}
		var home *slot
		for _, sl := range slots {
			if sl.view.Availability == models.AvailabilityUnavailable || !sl.view.HasAll(t.RequiredTags) {
				continue
			}
			if home == nil || sl.load < home.load {
				home = sl
			}
		}
		if home != nil {
			t.HomeAgent = home.view.ID
		}
	}

	queued := func(sl *slot) []*models.Task {
		var q []*models.Task
		for _, t := range ready {
			if t.Status != models.TaskStatusAssigned && t.HomeAgent == sl.view.ID {
				q = append(q, t)
			}
		}
		return q
	}

	// Own queue first, oldest work first.
	for _, sl := range slots {
		for _, t := range queued(sl) {
			if !sl.canAccept() {
				break
			}
			if sl.view.HasAll(t.RequiredTags) {
				assign(t, sl, false)
			}
		}
	}

	// Idle agents steal from the back of the busiest compatible queue.
	for _, thief := range slots {
		if thief.load > 0 {
			continue
		}
		for thief.canAccept() {
			var victim *slot
			var victimQueue []*models.Task
			for _, peer := range slots {
				if peer == thief {
					continue
				}
				var eligible []*models.Task
				for _, t := range queued(peer) {
					if thief.view.HasAll(t.RequiredTags) {
						eligible = append(eligible, t)
					}
				}
				if len(eligible) > len(victimQueue) {
					victim, victimQueue = peer, eligible
				}
			}
			if victim == nil {
				break
			}

			newest := victimQueue[0]
			for _, t := range victimQueue[1:] {
				if t.CreatedSeq > newest.CreatedSeq {
					newest = t
				}
			}
			assign(newest, thief, true)
		}
	}
}

// MarkRunning transitions a dispatched task to running.
func (s *Scheduler) MarkRunning(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tasks[taskID]; t != nil {
		now := time.Now()
		t.Status = models.TaskStatusRunning
		t.StartedAt = &now
	}
}

// Unassign returns an assigned task to ready without counting a retry. Used
// when the dispatch lost the slot race against another objective's loop.
func (s *Scheduler) Unassign(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tasks[taskID]; t != nil && t.Status == models.TaskStatusAssigned {
		t.Status = models.TaskStatusReady
		t.AssignedTo = ""
	}
}

// Complete finishes a task successfully and unblocks its dependents.
func (s *Scheduler) Complete(taskID string, result *models.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[taskID]
	if t == nil || t.Status.Terminal() {
		return
	}
	now := time.Now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	t.Result = result
	t.Error = ""
	s.graph.MarkCompleted(taskID)
}

// Requeue returns a failed task to ready and counts the retry. The caller
// decides, against its retry budget, whether to requeue or exhaust.
func (s *Scheduler) Requeue(taskID, reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[taskID]
	if t == nil || t.Status.Terminal() {
		return 0
	}
	t.RetryCount++
	t.Status = models.TaskStatusReady
	t.AssignedTo = ""
	t.Error = reason
	return t.RetryCount
}

// Exhaust fails a task permanently, blocking its dependents.
func (s *Scheduler) Exhaust(taskID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[taskID]
	if t == nil || t.Status.Terminal() {
		return
	}
	now := time.Now()
	t.Status = models.TaskStatusFailed
	t.Error = reason
	t.CompletedAt = &now
	s.graph.MarkFailed(taskID)
}

// CancelObjective fails every non-terminal task of the objective and returns
// their ids so in-flight dispatches can be interrupted.
func (s *Scheduler) CancelObjective(objectiveID, reason string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []string
	now := time.Now()
	for _, id := range s.order {
		t := s.tasks[id]
		if t.ObjectiveID != objectiveID || t.Status.Terminal() {
			continue
		}
		t.Status = models.TaskStatusFailed
		t.Error = reason
		t.CompletedAt = &now
		t.AssignedTo = ""
		s.graph.MarkFailed(id)
		cancelled = append(cancelled, id)
	}
	return cancelled
}

// Task returns a copy of one task. Pending tasks whose dependencies are all
// complete read as ready.
func (s *Scheduler) Task(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	c := cloneTask(t)
	if c.Status == models.TaskStatusPending && s.readySetLocked()[id] {
		c.Status = models.TaskStatusReady
	}
	return c, true
}

// ObjectiveTasks returns copies of an objective's tasks in creation order.
func (s *Scheduler) ObjectiveTasks(objectiveID string) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readySet := s.readySetLocked()
	var out []models.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t.ObjectiveID != objectiveID {
			continue
		}
		c := cloneTask(t)
		if c.Status == models.TaskStatusPending && readySet[id] {
			c.Status = models.TaskStatusReady
		}
		out = append(out, c)
	}
	return out
}

// Counts summarizes the tasks of one objective.
func (s *Scheduler) Counts(objectiveID string) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked(objectiveID)
}

// CountsAll summarizes every task in the run.
func (s *Scheduler) CountsAll() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked("")
}

func (s *Scheduler) countsLocked(objectiveID string) Counts {
	readySet := s.readySetLocked()
	var c Counts
	for _, id := range s.order {
		t := s.tasks[id]
		if objectiveID != "" && t.ObjectiveID != objectiveID {
			continue
		}
		c.Total++
		switch t.Status {
		case models.TaskStatusCompleted:
			c.Completed++
		case models.TaskStatusFailed:
			c.Failed++
		case models.TaskStatusRunning:
			c.Running++
		case models.TaskStatusAssigned:
			c.Assigned++
		default:
			if readySet[id] {
				c.Ready++
			} else {
				c.Pending++
			}
		}
	}
	return c
}

func (s *Scheduler) readySetLocked() map[string]bool {
	set := make(map[string]bool)
	for _, id := range s.graph.ReadyIDs() {
		set[id] = true
	}
	return set
}

func cloneTask(t *models.Task) models.Task {
	c := *t
	c.RequiredTags = append([]string(nil), t.RequiredTags...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}
