package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/pkg/models"
)

func mkTask(id, objectiveID string, tags []string, priority int, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		ObjectiveID:  objectiveID,
		Name:         id,
		RequiredTags: tags,
		Priority:     priority,
		DependsOn:    deps,
		Status:       models.TaskStatusPending,
		CreatedAt:    time.Now(),
	}
}

func mkAgent(t *testing.T, r *registry.Registry, name string, caps models.Capabilities) string {
	t.Helper()
	id, err := r.Register(name, models.AgentTypeCoder, caps)
	if err != nil {
		t.Fatalf("Register %s failed: %v", name, err)
	}
	return id
}

func activeSet(ids ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestAddRejectsOverLimit(t *testing.T) {
	s := New(config.AssignCapability, 2)
	batch := []*models.Task{
		mkTask("t1", "obj", nil, 0),
		mkTask("t2", "obj", nil, 0),
		mkTask("t3", "obj", nil, 0),
	}
	if err := s.Add(batch); err == nil {
		t.Fatal("Add over the task limit should fail")
	}
	if s.CountsAll().Total != 0 {
		t.Error("rejected batch must leave the scheduler empty")
	}
}

func TestTickAssignsByCapability(t *testing.T) {
	r := registry.New()
	steady := mkAgent(t, r, "steady", models.Capabilities{
		MaxConcurrentTasks: 2, Reliability: 0.95, Domains: []string{"implementation"},
	})
	mkAgent(t, r, "flaky", models.Capabilities{
		MaxConcurrentTasks: 2, Reliability: 0.5, Domains: []string{"implementation"},
	})

	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{mkTask("t1", "obj", []string{"implementation"}, 1)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(res.Assignments))
	}
	if res.Assignments[0].AgentID != steady {
		t.Errorf("assigned to %s, want the most reliable agent %s", res.Assignments[0].AgentID, steady)
	}
	if res.Assignments[0].Task.Status != models.TaskStatusAssigned {
		t.Errorf("assignment task status = %q, want assigned", res.Assignments[0].Task.Status)
	}
}

func TestTickNeverAssignsWithoutRequiredTags(t *testing.T) {
	r := registry.New()
	mkAgent(t, r, "writer", models.Capabilities{
		MaxConcurrentTasks: 2, Reliability: 0.9, Domains: []string{"documentation"},
	})

	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{mkTask("t1", "obj", []string{"testing"}, 1)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 0 {
		t.Fatalf("assigned a task to an agent lacking the required tag: %+v", res.Assignments)
	}
	if len(res.Starved) != 1 || res.Starved[0] != "t1" {
		t.Errorf("starved = %v, want [t1]", res.Starved)
	}

	// Backpressure, not failure: the task stays dispatchable and is picked
	// up once an eligible agent exists.
	mkAgent(t, r, "tester", models.Capabilities{
		MaxConcurrentTasks: 1, Reliability: 0.9, Domains: []string{"testing"},
	})
	res = s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 {
		t.Fatalf("task not assigned after an eligible agent registered")
	}
}

func TestTickIgnoresInactiveObjectives(t *testing.T) {
	r := registry.New()
	mkAgent(t, r, "worker", models.Capabilities{MaxConcurrentTasks: 4, Reliability: 0.9})

	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{
		mkTask("t1", "active", nil, 1),
		mkTask("t2", "paused", nil, 1),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("active"))
	if len(res.Assignments) != 1 || res.Assignments[0].Task.ID != "t1" {
		t.Fatalf("tick must only schedule active objectives, got %+v", res.Assignments)
	}
}

func TestTickPriorityPolicy(t *testing.T) {
	r := registry.New()
	mkAgent(t, r, "solo", models.Capabilities{MaxConcurrentTasks: 1, Reliability: 0.9})

	s := New(config.AssignPriority, 16)
	if err := s.Add([]*models.Task{
		mkTask("low", "obj", nil, 1),
		mkTask("high", "obj", nil, 9),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 {
		t.Fatalf("got %d assignments, want 1 (single slot)", len(res.Assignments))
	}
	if res.Assignments[0].Task.ID != "high" {
		t.Errorf("dispatched %s first, want the highest-priority task", res.Assignments[0].Task.ID)
	}
}

func TestTickPriorityFIFOTieBreak(t *testing.T) {
	r := registry.New()
	mkAgent(t, r, "solo", models.Capabilities{MaxConcurrentTasks: 1, Reliability: 0.9})

	s := New(config.AssignPriority, 16)
	if err := s.Add([]*models.Task{
		mkTask("first", "obj", nil, 5),
		mkTask("second", "obj", nil, 5),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 || res.Assignments[0].Task.ID != "first" {
		t.Fatalf("priority tie must break FIFO, got %+v", res.Assignments)
	}
}

func TestWorkStealingRespectsMaxConcurrent(t *testing.T) {
	r := registry.New()
	mkAgent(t, r, "thief", models.Capabilities{
		MaxConcurrentTasks: 2, Reliability: 0.9, Domains: []string{"implementation"},
	})

	s := New(config.AssignWorkStealing, 16)
	var batch []*models.Task
	for i := 0; i < 5; i++ {
		batch = append(batch, mkTask(fmt.Sprintf("t%d", i), "obj", []string{"implementation"}, 1))
	}
	if err := s.Add(batch); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) > 2 {
		t.Fatalf("agent claimed %d tasks, capped at MaxConcurrentTasks=2", len(res.Assignments))
	}
}

func TestWorkStealingFromBackloggedPeer(t *testing.T) {
	r := registry.New()
	// busy gets the home queue: it is least loaded at enqueue time only when
	// alone, so register it first and give it a big backlog.
	mkAgent(t, r, "busy", models.Capabilities{
		MaxConcurrentTasks: 1, Reliability: 0.9, Domains: []string{"implementation"},
	})

	s := New(config.AssignWorkStealing, 16)
	var batch []*models.Task
	for i := 0; i < 3; i++ {
		batch = append(batch, mkTask(fmt.Sprintf("t%d", i), "obj", []string{"implementation"}, 1))
	}
	if err := s.Add(batch); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// First tick: the lone agent homes every task but can run only one.
	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 {
		t.Fatalf("first tick assigned %d, want 1", len(res.Assignments))
	}

	// A compatible idle peer joins; it must steal from the backlog.
	thief := mkAgent(t, r, "thief", models.Capabilities{
		MaxConcurrentTasks: 1, Reliability: 0.9, Domains: []string{"implementation"},
	})
	s.MarkRunning(res.Assignments[0].Task.ID)

	views := r.Snapshot()
	res = s.Tick(views, activeSet("obj"))

	var stolen int
	for _, a := range res.Assignments {
		if a.Stolen {
			stolen++
			if a.AgentID != thief {
				t.Errorf("stolen task went to %s, want the idle thief %s", a.AgentID, thief)
			}
		}
	}
	if stolen == 0 {
		t.Error("idle agent stole nothing from the backlogged peer")
	}
}

func TestCompleteUnblocksDependents(t *testing.T) {
	r := registry.New()
	mkAgent(t, r, "worker", models.Capabilities{MaxConcurrentTasks: 4, Reliability: 0.9})

	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{
		mkTask("parent", "obj", nil, 2),
		mkTask("child", "obj", nil, 1, "parent"),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res := s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 || res.Assignments[0].Task.ID != "parent" {
		t.Fatalf("only the parent should be dispatchable, got %+v", res.Assignments)
	}

	s.MarkRunning("parent")
	s.Complete("parent", &models.TaskResult{Summary: "done"})

	res = s.Tick(r.Snapshot(), activeSet("obj"))
	if len(res.Assignments) != 1 || res.Assignments[0].Task.ID != "child" {
		t.Fatalf("child not released after parent completion, got %+v", res.Assignments)
	}

	got, ok := s.Task("parent")
	if !ok || got.Status != models.TaskStatusCompleted || got.Result == nil {
		t.Errorf("parent after Complete = %+v", got)
	}
}

func TestRequeueCountsRetries(t *testing.T) {
	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{mkTask("t1", "obj", nil, 1)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if n := s.Requeue("t1", "boom"); n != 1 {
		t.Errorf("first Requeue = %d, want 1", n)
	}
	if n := s.Requeue("t1", "boom again"); n != 2 {
		t.Errorf("second Requeue = %d, want 2", n)
	}

	got, _ := s.Task("t1")
	if got.Status != models.TaskStatusReady {
		t.Errorf("requeued task status = %q, want ready", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", got.RetryCount)
	}
}

func TestExhaustBlocksDependents(t *testing.T) {
	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{
		mkTask("parent", "obj", nil, 2),
		mkTask("child", "obj", nil, 1, "parent"),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Exhaust("parent", "retries exhausted")

	got, _ := s.Task("parent")
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("exhausted task status = %q, want failed", got.Status)
	}
	// Exhausting again must not double-apply.
	s.Exhaust("parent", "again")
	counts := s.Counts("obj")
	if counts.Failed != 1 {
		t.Errorf("failed count = %d, want exactly 1", counts.Failed)
	}
	if !counts.Stuck() {
		t.Error("objective with only a blocked child should read as stuck")
	}
}

func TestCancelObjectiveFailsUnfinished(t *testing.T) {
	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{
		mkTask("t1", "obj", nil, 1),
		mkTask("t2", "obj", nil, 1),
		mkTask("other", "second", nil, 1),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Complete("t1", nil)

	cancelled := s.CancelObjective("obj", "cancelled")
	if len(cancelled) != 1 || cancelled[0] != "t2" {
		t.Fatalf("cancelled = %v, want only the unfinished t2", cancelled)
	}

	if got, _ := s.Task("other"); got.Status.Terminal() {
		t.Error("cancel must not touch other objectives")
	}
	counts := s.Counts("obj")
	if !counts.Terminal() || counts.Completed != 1 || counts.Failed != 1 {
		t.Errorf("counts after cancel = %+v", counts)
	}
}

func TestObjectiveTasksDeriveReady(t *testing.T) {
	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{
		mkTask("a", "obj", nil, 2),
		mkTask("b", "obj", nil, 1, "a"),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	tasks := s.ObjectiveTasks("obj")
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Status != models.TaskStatusReady {
		t.Errorf("root task reads as %q, want ready", tasks[0].Status)
	}
	if tasks[1].Status != models.TaskStatusPending {
		t.Errorf("blocked task reads as %q, want pending", tasks[1].Status)
	}
}

func TestCountsSummarize(t *testing.T) {
	s := New(config.AssignCapability, 16)
	if err := s.Add([]*models.Task{
		mkTask("a", "obj", nil, 1),
		mkTask("b", "obj", nil, 1),
		mkTask("c", "obj", nil, 1, "b"),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Complete("a", nil)

	c := s.Counts("obj")
	if c.Total != 3 || c.Completed != 1 || c.Ready != 1 || c.Pending != 1 {
		t.Errorf("counts = %+v", c)
	}
	if c.Terminal() || c.Stuck() {
		t.Error("objective with dispatchable work is neither terminal nor stuck")
	}
}
