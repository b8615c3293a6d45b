package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/pkg/models"
)

func registerAgent(t *testing.T, r *registry.Registry, caps models.Capabilities) registry.AgentView {
	t.Helper()
	id, err := r.Register("worker", models.AgentTypeCoder, caps)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for _, v := range r.Snapshot() {
		if v.ID == id {
			return v
		}
	}
	t.Fatal("registered agent missing from snapshot")
	return registry.AgentView{}
}

func assignment(agentID string) scheduler.Assignment {
	return scheduler.Assignment{
		Task:    models.Task{ID: "t1", ObjectiveID: "obj", Name: "build"},
		AgentID: agentID,
	}
}

func waitOutcome(t *testing.T, done <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
		return Outcome{}
	}
}

func TestDispatchDeliversResult(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{MaxConcurrentTasks: 1, Speed: 1.0})

	runner := RunnerFunc(func(ctx context.Context, task models.Task, a registry.AgentView) (*models.TaskResult, error) {
		return &models.TaskResult{Summary: "ok"}, nil
	})
	s := New(runner, r, nil, Options{})

	done := make(chan Outcome, 1)
	if !s.Dispatch(context.Background(), assignment(agent.ID), agent, "ns", done) {
		t.Fatal("Dispatch refused an idle agent")
	}

	out := waitOutcome(t, done)
	if out.Err != nil {
		t.Fatalf("outcome error: %v", out.Err)
	}
	if out.Result == nil || out.Result.Summary != "ok" {
		t.Errorf("result = %+v", out.Result)
	}
	if out.Result.AgentID != agent.ID {
		t.Errorf("result agent = %q, want %q", out.Result.AgentID, agent.ID)
	}
	if out.Result.Duration <= 0 {
		t.Error("duration not backfilled")
	}

	s.Wait()
	if !r.TryAcquire(agent.ID) {
		t.Error("slot not released after the dispatch finished")
	}
}

func TestDispatchRefusesWhenSlotsFull(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{MaxConcurrentTasks: 1})
	if !r.TryAcquire(agent.ID) {
		t.Fatal("setup: could not occupy the only slot")
	}

	s := New(RunnerFunc(func(context.Context, models.Task, registry.AgentView) (*models.TaskResult, error) {
		t.Error("runner must not run on a refused dispatch")
		return nil, nil
	}), r, nil, Options{})

	done := make(chan Outcome, 1)
	if s.Dispatch(context.Background(), assignment(agent.ID), agent, "ns", done) {
		t.Fatal("Dispatch claimed a slot on a fully loaded agent")
	}
	select {
	case out := <-done:
		t.Fatalf("refused dispatch still delivered an outcome: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchTimesOut(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{MaxConcurrentTasks: 1})

	runner := RunnerFunc(func(ctx context.Context, task models.Task, a registry.AgentView) (*models.TaskResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := New(runner, r, nil, Options{TaskTimeout: 20 * time.Millisecond})

	done := make(chan Outcome, 1)
	s.Dispatch(context.Background(), assignment(agent.ID), agent, "ns", done)

	out := waitOutcome(t, done)
	if !out.TimedOut {
		t.Fatalf("outcome not marked timed out: %+v", out)
	}
	var te *TaskTimeoutError
	if !errors.As(out.Err, &te) {
		t.Fatalf("err = %v, want TaskTimeoutError", out.Err)
	}
	if te.TaskID != "t1" {
		t.Errorf("timeout error names task %q", te.TaskID)
	}
}

func TestDispatchFlagsBudgetOverrun(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{
		MaxConcurrentTasks: 1,
		MemoryBudget:       1024,
	})

	runner := RunnerFunc(func(ctx context.Context, task models.Task, a registry.AgentView) (*models.TaskResult, error) {
		return &models.TaskResult{
			Summary: "bloated",
			Usage:   models.ResourceUsage{MemoryBytes: 4096},
		}, nil
	})
	s := New(runner, r, nil, Options{})

	done := make(chan Outcome, 1)
	s.Dispatch(context.Background(), assignment(agent.ID), agent, "ns", done)

	out := waitOutcome(t, done)
	var be *BudgetExceededError
	if !errors.As(out.Err, &be) {
		t.Fatalf("err = %v, want BudgetExceededError", out.Err)
	}
	if be.Resource != "memory" {
		t.Errorf("overrun resource = %q, want memory", be.Resource)
	}
	if out.Result != nil {
		t.Error("an over-budget execution must not deliver a result")
	}
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{MaxConcurrentTasks: 1})

	boom := errors.New("boom")
	s := New(RunnerFunc(func(context.Context, models.Task, registry.AgentView) (*models.TaskResult, error) {
		return nil, boom
	}), r, nil, Options{BreakerThreshold: 2, BreakerCooldown: time.Minute})

	done := make(chan Outcome, 1)
	ctx := context.Background()

	s.Dispatch(ctx, assignment(agent.ID), agent, "ns", done)
	if out := waitOutcome(t, done); out.Tripped {
		t.Fatal("breaker tripped below the threshold")
	}

	s.Dispatch(ctx, assignment(agent.ID), agent, "ns", done)
	if out := waitOutcome(t, done); !out.Tripped {
		t.Fatal("second consecutive failure did not trip the breaker")
	}

	for _, v := range r.Snapshot() {
		if v.ID == agent.ID && v.Availability != models.AvailabilityUnavailable {
			t.Errorf("tripped agent availability = %q, want unavailable", v.Availability)
		}
	}
	if r.TryAcquire(agent.ID) {
		t.Error("suspended agent accepted a slot claim")
	}
}

func TestBreakerStreakResetsOnSuccess(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{MaxConcurrentTasks: 1})

	var fail bool
	s := New(RunnerFunc(func(context.Context, models.Task, registry.AgentView) (*models.TaskResult, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return &models.TaskResult{}, nil
	}), r, nil, Options{BreakerThreshold: 2, BreakerCooldown: time.Minute})

	done := make(chan Outcome, 1)
	ctx := context.Background()

	// fail, succeed, fail: never two in a row, so the breaker stays closed.
	for i, step := range []bool{true, false, true} {
		fail = step
		s.Dispatch(ctx, assignment(agent.ID), agent, "ns", done)
		if out := waitOutcome(t, done); out.Tripped {
			t.Fatalf("breaker tripped at step %d without consecutive failures", i)
		}
	}
}

func TestSuccessfulResultWrittenToMemory(t *testing.T) {
	r := registry.New()
	agent := registerAgent(t, r, models.Capabilities{MaxConcurrentTasks: 1})

	store, err := memory.NewStore(memory.Options{})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	s := New(RunnerFunc(func(ctx context.Context, task models.Task, a registry.AgentView) (*models.TaskResult, error) {
		return &models.TaskResult{Summary: "done"}, nil
	}), r, store, Options{})

	done := make(chan Outcome, 1)
	s.Dispatch(context.Background(), assignment(agent.ID), agent, "swarm:obj", done)
	if out := waitOutcome(t, done); out.Err != nil {
		t.Fatalf("outcome error: %v", out.Err)
	}
	s.Wait()

	value, version, err := store.Get(context.Background(), "swarm:obj", "task:t1")
	if err != nil {
		t.Fatalf("result not stored: %v", err)
	}
	if version == 0 || len(value) == 0 {
		t.Errorf("stored result version=%d len=%d", version, len(value))
	}
}

func TestSimulatedRunnerFailsEveryNth(t *testing.T) {
	runner := NewSimulatedRunner(0, 3)
	agent := registry.AgentView{ID: "a1", Name: "sim", Speed: 1.0}

	for i := 1; i <= 6; i++ {
		task := models.Task{ID: fmt.Sprintf("t%d", i), Name: "step"}
		_, err := runner.Run(context.Background(), task, agent)
		if i%3 == 0 && err == nil {
			t.Errorf("execution %d should have failed", i)
		}
		if i%3 != 0 && err != nil {
			t.Errorf("execution %d failed unexpectedly: %v", i, err)
		}
	}
}

func TestSimulatedRunnerScalesLatency(t *testing.T) {
	runner := NewSimulatedRunner(40*time.Millisecond, 0)
	fast := registry.AgentView{ID: "a1", Name: "fast", Speed: 4.0}

	start := time.Now()
	if _, err := runner.Run(context.Background(), models.Task{ID: "t1"}, fast); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 35*time.Millisecond {
		t.Errorf("speed 4.0 took %s, want well under the 40ms base latency", elapsed)
	}
}
