// Package graph tracks task dependency structure and completion state for
// readiness decisions. Task records themselves live with the scheduler; the
// graph sees only ids.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in a task batch.
var ErrCycleDetected = errors.New("graph: circular dependency detected")

// DependencyGraph is a directed acyclic graph of task ids. Edges point from
// a task to the tasks it is blocked by. Batches from different objectives
// share one graph; ids are unique across the run.
type DependencyGraph struct {
	mu sync.RWMutex
	// order preserves insertion order so readiness scans are deterministic.
	order []string
	// edges maps task id to the ids it depends on.
	edges map[string][]string
	// completed and failed are the terminal sets.
	completed map[string]bool
	failed    map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an empty graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add registers a batch of tasks. Dependencies may reference tasks in the
// batch or already in the graph. The batch is rejected whole on duplicate
// ids, unknown dependencies, or cycles; a rejected batch leaves the graph
// untouched.
func (g *DependencyGraph) Add(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	staged := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		if _, exists := g.edges[task.ID]; exists {
			return fmt.Errorf("graph: duplicate task id %s", task.ID)
		}
		if _, dup := staged[task.ID]; dup {
			return fmt.Errorf("graph: duplicate task id %s", task.ID)
		}
		staged[task.ID] = nil
	}
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			_, inBatch := staged[depID]
			_, inGraph := g.edges[depID]
			if !inBatch && !inGraph {
				return fmt.Errorf("graph: task %s depends on unknown task %s", task.ID, depID)
			}
		}
		staged[task.ID] = append([]string(nil), task.DependsOn...)
	}

	if g.hasCycleWith(staged) {
		return ErrCycleDetected
	}

	for _, task := range tasks {
		g.order = append(g.order, task.ID)
		g.edges[task.ID] = staged[task.ID]
	}
	g.debugLog("[graph] added %d tasks (total %d)", len(tasks), len(g.order))
	return nil
}

// hasCycleWith runs DFS coloring over the union of the committed edges and a
// staged batch. Colors: 0 = unvisited, 1 = in progress, 2 = done.
func (g *DependencyGraph) hasCycleWith(staged map[string][]string) bool {
	deps := func(id string) []string {
		if d, ok := staged[id]; ok {
			return d
		}
		return g.edges[id]
	}

	colors := make(map[string]int, len(g.edges)+len(staged))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range deps(id) {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range staged {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	for id := range g.edges {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// ReadyIDs returns the unfinished tasks whose dependencies are all
// completed, in insertion order. A task with a failed dependency is blocked
// and never becomes ready.
func (g *DependencyGraph) ReadyIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.completed[id] || g.failed[id] {
			continue
		}
		satisfied := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkCompleted records a task as completed, unblocking its dependents.
func (g *DependencyGraph) MarkCompleted(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
	g.debugLog("[graph] task %s completed", taskID)
}

// MarkFailed records a task as permanently failed, blocking its dependents.
func (g *DependencyGraph) MarkFailed(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed[taskID] = true
	g.debugLog("[graph] task %s failed", taskID)
}

// BlockedIDs returns the unfinished tasks that can never become ready
// because a dependency, direct or transitive, has failed.
func (g *DependencyGraph) BlockedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	memo := make(map[string]bool, len(g.order))
	var blocked func(id string) bool
	blocked = func(id string) bool {
		if b, ok := memo[id]; ok {
			return b
		}
		result := false
		for _, depID := range g.edges[id] {
			if g.failed[depID] {
				result = true
				break
			}
			if !g.completed[depID] && blocked(depID) {
				result = true
				break
			}
		}
		memo[id] = result
		return result
	}

	var out []string
	for _, id := range g.order {
		if g.completed[id] || g.failed[id] {
			continue
		}
		if blocked(id) {
			out = append(out, id)
		}
	}
	return out
}

// Dependents returns the ids of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// Dependencies returns the ids the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}
