// Package registry tracks the swarm's agents: identities, declared
// capabilities, and live load. Load accounting is atomic so concurrent
// dispatches can never double-book an agent slot.
package registry

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DuplicateAgentError reports a Register call reusing an agent name.
type DuplicateAgentError struct {
	Name string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("registry: agent %q already registered", e.Name)
}

// UnknownAgentError reports an operation on an unregistered agent id.
type UnknownAgentError struct {
	ID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("registry: unknown agent %q", e.ID)
}

// entry holds one agent. Identity and capabilities are immutable after
// Register; load, the busy flag, and the suspension deadline are atomics.
type entry struct {
	agent  models.Agent
	tags   []string
	tagSet map[string]struct{}

	load           atomic.Int32
	manualBusy     atomic.Bool
	suspendedUntil atomic.Int64 // unix nanos, 0 when not suspended
}

// availability derives the agent's state and lazily re-admits a suspended
// agent once its cooldown has passed.
func (e *entry) availability(now time.Time) models.Availability {
	if until := e.suspendedUntil.Load(); until > 0 {
		if now.UnixNano() < until {
			return models.AvailabilityUnavailable
		}
		e.suspendedUntil.CompareAndSwap(until, 0)
	}
	if e.load.Load() > 0 || e.manualBusy.Load() {
		return models.AvailabilityBusy
	}
	return models.AvailabilityIdle
}

// Registry is the agent directory. The mutex guards only the maps; per-agent
// counters are lock-free so dispatch never serializes on the registry.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entry
	byName map[string]string
	order  []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*entry),
		byName: make(map[string]string),
	}
}

// Register adds an agent and returns its id. Names are unique per run;
// reusing one returns a DuplicateAgentError.
func (r *Registry) Register(name string, typ models.AgentType, caps models.Capabilities) (string, error) {
	if name == "" {
		return "", fmt.Errorf("registry: agent name is required")
	}
	if !typ.Valid() {
		return "", fmt.Errorf("registry: unknown agent type %q", typ)
	}
	if caps.MaxConcurrentTasks <= 0 {
		caps.MaxConcurrentTasks = 1
	}
	caps.Domains = append([]string(nil), caps.Domains...)
	caps.Tools = append([]string(nil), caps.Tools...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return "", &DuplicateAgentError{Name: name}
	}

	id := uuid.New().String()[:8]
	e := &entry{
		agent: models.Agent{
			ID:           id,
			Name:         name,
			Type:         typ,
			Capabilities: caps,
			Availability: models.AvailabilityIdle,
			RegisteredAt: time.Now(),
		},
		tags: caps.Tags(),
	}
	e.tagSet = make(map[string]struct{}, len(e.tags))
	for _, tag := range e.tags {
		e.tagSet[tag] = struct{}{}
	}

	r.agents[id] = e
	r.byName[name] = id
	r.order = append(r.order, id)

	log.Printf("[registry] registered agent %s (%s, type=%s)", name, id, typ)
	return id, nil
}

// List returns all agents in registration order with live load and
// availability filled in. The returned values are copies.
func (r *Registry) List() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	out := make([]models.Agent, 0, len(r.order))
	for _, id := range r.order {
		e := r.agents[id]
		a := e.agent
		a.Capabilities.Domains = append([]string(nil), a.Capabilities.Domains...)
		a.Capabilities.Tools = append([]string(nil), a.Capabilities.Tools...)
		a.Load = int(e.load.Load())
		a.Availability = e.availability(now)
		out = append(out, a)
	}
	return out
}

// CapabilitiesOf returns a copy of an agent's capability record.
func (r *Registry) CapabilitiesOf(id string) (models.Capabilities, error) {
	e := r.lookup(id)
	if e == nil {
		return models.Capabilities{}, &UnknownAgentError{ID: id}
	}
	caps := e.agent.Capabilities
	caps.Domains = append([]string(nil), caps.Domains...)
	caps.Tools = append([]string(nil), caps.Tools...)
	return caps, nil
}

// MarkBusy flags the agent busy regardless of its current load.
func (r *Registry) MarkBusy(id string) error {
	e := r.lookup(id)
	if e == nil {
		return &UnknownAgentError{ID: id}
	}
	e.manualBusy.Store(true)
	return nil
}

// MarkIdle clears the busy flag. An agent still holding task slots stays
// busy until they are released.
func (r *Registry) MarkIdle(id string) error {
	e := r.lookup(id)
	if e == nil {
		return &UnknownAgentError{ID: id}
	}
	e.manualBusy.Store(false)
	return nil
}

// TryAcquire claims one task slot if the agent is not suspended and has
// capacity under MaxConcurrentTasks. The claim is a CAS loop, safe under
// concurrent dispatch.
func (r *Registry) TryAcquire(id string) bool {
	e := r.lookup(id)
	if e == nil {
		return false
	}
	if e.availability(time.Now()) == models.AvailabilityUnavailable {
		return false
	}

	max := int32(e.agent.Capabilities.MaxConcurrentTasks)
	for {
		cur := e.load.Load()
		if cur >= max {
			return false
		}
		if e.load.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one task slot. Releasing below zero is a no-op.
func (r *Registry) Release(id string) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	for {
		cur := e.load.Load()
		if cur <= 0 {
			return
		}
		if e.load.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Suspend makes the agent unavailable until the deadline. Re-admission is
// lazy: the first availability check past the deadline clears it.
func (r *Registry) Suspend(id string, until time.Time) error {
	e := r.lookup(id)
	if e == nil {
		return &UnknownAgentError{ID: id}
	}
	e.suspendedUntil.Store(until.UnixNano())
	log.Printf("[registry] agent %s (%s) suspended until %s", e.agent.Name, id, until.Format(time.RFC3339))
	return nil
}

// AgentView is a point-in-time view of one agent for scheduling decisions.
type AgentView struct {
	ID            string
	Name          string
	Type          models.AgentType
	Tags          []string
	Load          int
	MaxConcurrent int
	MemoryBudget  int64
	TimeBudget    time.Duration
	Reliability   float64
	Speed         float64
	Quality       float64
	Availability  models.Availability
	// ManualBusy distinguishes an operator hold (MarkBusy) from load-driven
	// busyness; held agents take no new work even with free slots.
	ManualBusy bool

	tagSet map[string]struct{}
}

// HasAll reports whether the agent's tags cover every required tag. An empty
// requirement matches any agent.
func (v AgentView) HasAll(required []string) bool {
	for _, tag := range required {
		if _, ok := v.tagSet[tag]; !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a consistent view of every agent in registration order.
// Schedulers work from one snapshot per tick instead of re-reading live
// counters mid-decision.
func (r *Registry) Snapshot() []AgentView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	views := make([]AgentView, 0, len(r.order))
	for _, id := range r.order {
		e := r.agents[id]
		caps := e.agent.Capabilities
		views = append(views, AgentView{
			ID:            id,
			Name:          e.agent.Name,
			Type:          e.agent.Type,
			Tags:          e.tags,
			Load:          int(e.load.Load()),
			MaxConcurrent: caps.MaxConcurrentTasks,
			MemoryBudget:  caps.MemoryBudget,
			TimeBudget:    caps.TimeBudget,
			Reliability:   caps.Reliability,
			Speed:         caps.Speed,
			Quality:       caps.Quality,
			Availability:  e.availability(now),
			ManualBusy:    e.manualBusy.Load(),
			tagSet:        e.tagSet,
		})
	}
	return views
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}
