// Package coordinator owns the objective lifecycle: it validates and
// decomposes objectives, drives one scheduling loop per running objective,
// and exposes snapshot status, metrics, and an event stream to external
// observers. It wires together the registry, scheduler, supervisor, and
// memory store without sharing a lock with any of them.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/decompose"
	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ObjectiveTimeoutError reports an objective that exceeded its wall-clock
// budget. It is recorded on the objective, never raised to callers.
type ObjectiveTimeoutError struct {
	ObjectiveID string
	MaxDuration time.Duration
}

func (e *ObjectiveTimeoutError) Error() string {
	return fmt.Sprintf("coordinator: objective %s exceeded max duration %s", e.ObjectiveID, e.MaxDuration)
}

// History persists terminal objective records for later inspection. A nil
// History disables persistence.
type History interface {
	SaveRun(obj models.Objective, counts scheduler.Counts) error
}

// Options wires the coordinator's collaborators.
type Options struct {
	// Runner executes dispatched tasks. Required.
	Runner supervisor.TaskRunner
	// Store is the shared swarm memory results are written to. Required.
	Store *memory.Store
	// History receives terminal objective records. Optional.
	History History
	// Logger is the debug trace sink. Nil uses a no-op logger.
	Logger *DebugLogger
}

// objectiveRun tracks one running objective's loop.
type objectiveRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// metrics holds the run-wide counters behind GetMetrics. All fields are
// atomics so snapshot reads never block the loops.
type metrics struct {
	tasksRetried       atomic.Uint64
	tasksStolen        atomic.Uint64
	breakerTrips       atomic.Uint64
	starvedTicks       atomic.Uint64
	objectivesComplete atomic.Uint64
	objectivesFailed   atomic.Uint64
	objectivesTimedOut atomic.Uint64
}

// Coordinator is the engine facade consumed by the CLI and tests.
type Coordinator struct {
	cfg     *config.Config
	reg     *registry.Registry
	sched   *scheduler.Scheduler
	store   *memory.Store
	sup     *supervisor.Supervisor
	emitter *Emitter
	logger  *DebugLogger
	history History

	startedAt time.Time

	mu         sync.RWMutex
	objectives map[string]*models.Objective
	order      []string
	runs       map[string]*objectiveRun

	paused  atomic.Bool
	metrics metrics

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Coordinator from a validated config.
func New(cfg *config.Config, opts Options) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("coordinator: a task runner is required")
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}

	reg := registry.New()
	sup := supervisor.New(opts.Runner, reg, opts.Store, supervisor.Options{
		TaskTimeout:      cfg.TaskTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	})

	return &Coordinator{
		cfg:        cfg,
		reg:        reg,
		sched:      scheduler.New(cfg.AgentSelection, cfg.MaxTasks),
		store:      opts.Store,
		sup:        sup,
		emitter:    NewEmitter(256),
		logger:     opts.Logger,
		history:    opts.History,
		startedAt:  time.Now(),
		objectives: make(map[string]*models.Objective),
		runs:       make(map[string]*objectiveRun),
	}, nil
}

// Registry exposes the agent registry for read-side collaborators.
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Events returns the coordinator's event stream.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// RegisterAgent adds an agent to the swarm. A zero capability record takes
// the archetype defaults.
func (c *Coordinator) RegisterAgent(name string, typ models.AgentType, caps models.Capabilities) (string, error) {
	if len(c.reg.List()) >= c.cfg.MaxAgents {
		return "", &config.ConfigurationError{
			Field:  "max_agents",
			Value:  fmt.Sprint(c.cfg.MaxAgents),
			Reason: "agent limit reached",
		}
	}
	if reflect.DeepEqual(caps, models.Capabilities{}) {
		caps = models.DefaultCapabilities(typ)
	}

	id, err := c.reg.Register(name, typ, caps)
	if err != nil {
		return "", err
	}
	c.emitter.Emit(Event{
		Type:    EventAgentRegistered,
		AgentID: id,
		Message: fmt.Sprintf("agent %s registered (type=%s)", name, typ),
	})
	return id, nil
}

// CreateObjective validates the request, decomposes it into pending tasks,
// and stores the objective as pending. Validation failures surface as
// *config.ConfigurationError before any task is created.
func (c *Coordinator) CreateObjective(name, description string, strategy models.Strategy, req models.Requirements) (string, error) {
	if strategy == "" {
		strategy = models.Strategy(c.cfg.Strategy)
	}
	if !strategy.Valid() {
		return "", &config.ConfigurationError{Field: "strategy", Value: string(strategy), Reason: "unknown strategy"}
	}
	if req.QualityThreshold < 0 || req.QualityThreshold > 1 {
		return "", &config.ConfigurationError{Field: "quality_threshold", Value: fmt.Sprint(req.QualityThreshold), Reason: "must be in [0, 1]"}
	}
	if req.MinAgents < 0 {
		return "", &config.ConfigurationError{Field: "min_agents", Value: fmt.Sprint(req.MinAgents), Reason: "must not be negative"}
	}
	if req.MaxAgents < 0 {
		return "", &config.ConfigurationError{Field: "max_agents", Value: fmt.Sprint(req.MaxAgents), Reason: "must not be negative"}
	}
	if req.MaxAgents > 0 && req.MinAgents > req.MaxAgents {
		return "", &config.ConfigurationError{Field: "min_agents", Value: fmt.Sprint(req.MinAgents), Reason: "exceeds max_agents"}
	}
	if req.QualityThreshold == 0 {
		req.QualityThreshold = c.cfg.QualityThreshold
	}
	if req.MaxDuration == 0 {
		req.MaxDuration = c.cfg.MaxDuration
	}

	obj := &models.Objective{
		ID:           uuid.New().String()[:8],
		Name:         name,
		Description:  description,
		Strategy:     strategy,
		Requirements: req,
		Status:       models.ObjectivePending,
		CreatedAt:    time.Now(),
	}

	tasks, err := decompose.Tasks(obj)
	if err != nil {
		return "", &config.ConfigurationError{Field: "strategy", Value: string(strategy), Reason: err.Error()}
	}
	if err := c.sched.Add(tasks); err != nil {
		return "", err
	}
	for _, t := range tasks {
		obj.TaskIDs = append(obj.TaskIDs, t.ID)
	}

	c.mu.Lock()
	c.objectives[obj.ID] = obj
	c.order = append(c.order, obj.ID)
	c.mu.Unlock()

	log.Printf("[coordinator] objective %s created: %s (strategy=%s, %d tasks)",
		obj.ID, name, strategy, len(tasks))
	c.emitter.Emit(Event{
		Type:        EventObjectiveCreated,
		ObjectiveID: obj.ID,
		Message:     fmt.Sprintf("objective %q decomposed into %d tasks", name, len(tasks)),
	})
	return obj.ID, nil
}

// ExecuteObjective moves a pending objective to running and starts its
// scheduling loop. It returns immediately; progress is observable through
// events and status snapshots.
func (c *Coordinator) ExecuteObjective(objectiveID string) error {
	c.mu.Lock()
	obj, ok := c.objectives[objectiveID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: unknown objective %q", objectiveID)
	}
	if obj.Status != models.ObjectivePending {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: objective %s is %s, not pending", objectiveID, obj.Status)
	}
	if min := obj.Requirements.MinAgents; min > 0 && len(c.reg.List()) < min {
		c.mu.Unlock()
		return &config.ConfigurationError{
			Field:  "min_agents",
			Value:  fmt.Sprint(min),
			Reason: "not enough registered agents",
		}
	}

	now := time.Now()
	obj.Status = models.ObjectiveRunning
	obj.StartedAt = &now
	deadline := now.Add(obj.Requirements.MaxDuration)

	ctx, cancel := context.WithCancel(context.Background())
	run := &objectiveRun{cancel: cancel, done: make(chan struct{})}
	c.runs[objectiveID] = run
	c.mu.Unlock()

	c.emitter.Emit(Event{
		Type:        EventObjectiveStarted,
		ObjectiveID: objectiveID,
		Message:     fmt.Sprintf("objective %s running", objectiveID),
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(run.done)
		// Cancel on exit so in-flight dispatches of a settled objective are
		// reclaimed instead of blocking shutdown.
		defer cancel()
		c.runLoop(ctx, objectiveID, deadline)
	}()
	return nil
}

// CancelObjective stops a non-terminal objective: its loop exits, its
// unfinished tasks are failed, and its agents return to idle.
func (c *Coordinator) CancelObjective(objectiveID string) error {
	c.mu.Lock()
	obj, ok := c.objectives[objectiveID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: unknown objective %q", objectiveID)
	}
	if obj.Status.Terminal() {
		c.mu.Unlock()
		return nil
	}
	run := c.runs[objectiveID]
	c.mu.Unlock()

	if run != nil {
		run.cancel()
		<-run.done
		return nil
	}

	// Never executed: fail it directly.
	c.sched.CancelObjective(objectiveID, "objective cancelled")
	c.setTerminal(objectiveID, models.ObjectiveFailed, "objective cancelled")
	return nil
}

// Pause stops dispatching new tasks across all objectives. Completions keep
// applying and wall clocks keep running.
func (c *Coordinator) Pause() {
	c.paused.Store(true)
	log.Printf("[coordinator] paused")
}

// Resume re-enables dispatch.
func (c *Coordinator) Resume() {
	c.paused.Store(false)
	log.Printf("[coordinator] resumed")
}

// GetObjective returns a copy of an objective, or nil when unknown.
func (c *Coordinator) GetObjective(objectiveID string) *models.Objective {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objectives[objectiveID]
	if !ok {
		return nil
	}
	cp := *obj
	cp.TaskIDs = append([]string(nil), obj.TaskIDs...)
	return &cp
}

// ListObjectives returns copies of all objectives in creation order.
func (c *Coordinator) ListObjectives() []models.Objective {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Objective, 0, len(c.order))
	for _, id := range c.order {
		obj := c.objectives[id]
		cp := *obj
		cp.TaskIDs = append([]string(nil), obj.TaskIDs...)
		out = append(out, cp)
	}
	return out
}

// ObjectiveTasks returns the tasks of one objective in creation order.
func (c *Coordinator) ObjectiveTasks(objectiveID string) []models.Task {
	return c.sched.ObjectiveTasks(objectiveID)
}

// ObjectiveCounts summarizes objectives by lifecycle state.
type ObjectiveCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// AgentCounts summarizes agents by availability.
type AgentCounts struct {
	Total       int `json:"total"`
	Idle        int `json:"idle"`
	Busy        int `json:"busy"`
	Unavailable int `json:"unavailable"`
}

// SwarmStatus is a point-in-time snapshot of the whole run. Reading it never
// blocks the scheduling loops.
type SwarmStatus struct {
	Objectives ObjectiveCounts  `json:"objectives"`
	Tasks      scheduler.Counts `json:"tasks"`
	Agents     AgentCounts      `json:"agents"`
}

// GetSwarmStatus returns a consistent snapshot of objectives, tasks, and
// agents.
func (c *Coordinator) GetSwarmStatus() SwarmStatus {
	var st SwarmStatus

	c.mu.RLock()
	for _, id := range c.order {
		st.Objectives.Total++
		switch c.objectives[id].Status {
		case models.ObjectivePending:
			st.Objectives.Pending++
		case models.ObjectiveRunning:
			st.Objectives.Running++
		case models.ObjectiveCompleted:
			st.Objectives.Completed++
		case models.ObjectiveFailed:
			st.Objectives.Failed++
		case models.ObjectiveTimedOut:
			st.Objectives.TimedOut++
		}
	}
	c.mu.RUnlock()

	st.Tasks = c.sched.CountsAll()

	for _, a := range c.reg.List() {
		st.Agents.Total++
		switch a.Availability {
		case models.AvailabilityIdle:
			st.Agents.Idle++
		case models.AvailabilityBusy:
			st.Agents.Busy++
		case models.AvailabilityUnavailable:
			st.Agents.Unavailable++
		}
	}
	return st
}

// GetMetrics returns the run-wide metric snapshot keyed by metric name.
func (c *Coordinator) GetMetrics() map[string]any {
	st := c.GetSwarmStatus()
	m := map[string]any{
		"uptime_seconds":       time.Since(c.startedAt).Seconds(),
		"agents.total":         st.Agents.Total,
		"agents.unavailable":   st.Agents.Unavailable,
		"tasks.total":          st.Tasks.Total,
		"tasks.completed":      st.Tasks.Completed,
		"tasks.failed":         st.Tasks.Failed,
		"tasks.running":        st.Tasks.Running,
		"tasks.retried":        c.metrics.tasksRetried.Load(),
		"tasks.stolen":         c.metrics.tasksStolen.Load(),
		"tasks.starved_ticks":  c.metrics.starvedTicks.Load(),
		"objectives.total":     st.Objectives.Total,
		"objectives.completed": c.metrics.objectivesComplete.Load(),
		"objectives.failed":    c.metrics.objectivesFailed.Load(),
		"objectives.timed_out": c.metrics.objectivesTimedOut.Load(),
		"breaker.trips":        c.metrics.breakerTrips.Load(),
		"events.dropped":       c.emitter.Dropped(),
	}
	if c.store != nil {
		ms := c.store.Stats()
		m["memory.namespaces"] = ms.Namespaces
		m["memory.entries"] = ms.Entries
		m["memory.tombstones"] = ms.Tombstones
		m["memory.bytes"] = ms.Bytes
	}
	return m
}

// MemoryStats exposes the shared store's statistics for observers.
func (c *Coordinator) MemoryStats() memory.Stats {
	if c.store == nil {
		return memory.Stats{}
	}
	return c.store.Stats()
}

// Shutdown stops every objective loop, waits for in-flight dispatches,
// flushes pending memory writes, and closes the event stream. Idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		for _, run := range c.runs {
			run.cancel()
		}
		c.mu.Unlock()

		c.wg.Wait()
		c.sup.Wait()

		g, gctx := errgroup.WithContext(ctx)
		if c.store != nil {
			g.Go(func() error {
				if err := c.store.Flush(gctx); err != nil {
					return fmt.Errorf("flush memory: %w", err)
				}
				return c.store.Close()
			})
		}
		g.Go(func() error {
			return c.logger.Close()
		})
		c.shutdownErr = g.Wait()

		c.emitter.Close()
		log.Printf("[coordinator] shut down")
	})
	return c.shutdownErr
}

// namespaceFor returns the memory namespace an objective's results live in.
func (c *Coordinator) namespaceFor(objectiveID string) string {
	return c.cfg.Memory.Namespace + ":" + objectiveID
}

// setTerminal moves an objective to a terminal state exactly once and
// persists the run record. Terminal objectives are never mutated again.
func (c *Coordinator) setTerminal(objectiveID string, status models.ObjectiveStatus, errMsg string) {
	c.mu.Lock()
	obj, ok := c.objectives[objectiveID]
	if !ok || obj.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	obj.Status = status
	obj.Error = errMsg
	obj.CompletedAt = &now
	delete(c.runs, objectiveID)
	record := *obj
	c.mu.Unlock()

	var evType EventType
	switch status {
	case models.ObjectiveCompleted:
		evType = EventObjectiveCompleted
		c.metrics.objectivesComplete.Add(1)
	case models.ObjectiveTimedOut:
		evType = EventObjectiveTimedOut
		c.metrics.objectivesTimedOut.Add(1)
	default:
		evType = EventObjectiveFailed
		c.metrics.objectivesFailed.Add(1)
	}

	counts := c.sched.Counts(objectiveID)
	log.Printf("[coordinator] objective %s %s (%d/%d tasks completed)",
		objectiveID, status, counts.Completed, counts.Total)
	c.emitter.Emit(Event{
		Type:        evType,
		ObjectiveID: objectiveID,
		Message:     fmt.Sprintf("objective %s %s", objectiveID, status),
	})

	if c.history != nil {
		if err := c.history.SaveRun(record, counts); err != nil {
			log.Printf("[coordinator] persist run %s: %v", objectiveID, err)
		}
	}
}
