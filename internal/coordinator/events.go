package coordinator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventObjectiveCreated indicates an objective was accepted and decomposed.
	EventObjectiveCreated EventType = "objective_created"
	// EventObjectiveStarted indicates an objective's scheduling loop started.
	EventObjectiveStarted EventType = "objective_started"
	// EventObjectiveCompleted indicates an objective reached completed.
	EventObjectiveCompleted EventType = "objective_completed"
	// EventObjectiveFailed indicates an objective reached failed.
	EventObjectiveFailed EventType = "objective_failed"
	// EventObjectiveTimedOut indicates an objective exceeded its wall clock.
	EventObjectiveTimedOut EventType = "objective_timed_out"
	// EventAgentRegistered indicates an agent joined the swarm.
	EventAgentRegistered EventType = "agent_registered"
	// EventAgentSuspended indicates the circuit breaker suspended an agent.
	EventAgentSuspended EventType = "agent_suspended"
	// EventTaskAssigned indicates a ready task was matched to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStolen indicates an idle agent claimed a peer's queued task.
	EventTaskStolen EventType = "task_stolen"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskRetried indicates a failed task was returned to the ready set.
	EventTaskRetried EventType = "task_retried"
	// EventTaskExhausted indicates a task failed permanently after retries.
	EventTaskExhausted EventType = "task_exhausted"
	// EventNoEligibleAgent indicates ready tasks found no agent this tick.
	// Backpressure, not failure; the tasks stay ready.
	EventNoEligibleAgent EventType = "no_eligible_agent"
)

// Event is one entry on the coordinator's event stream. The run loop is the
// sole producer; external observers consume via Events().
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ObjectiveID is the related objective, if applicable.
	ObjectiveID string
	// TaskID is the related task, if applicable.
	TaskID string
	// AgentID is the related agent, if applicable.
	AgentID string
	// Message provides additional context about the event.
	Message string
	// Err carries error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emitter is the buffered event channel behind Events(). Sends never block
// the scheduling loop: when the buffer is full the event is dropped and
// counted.
type Emitter struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, dropping it when the buffer is full.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.events <- ev:
	default:
		count := e.dropped.Add(1)
		if count%64 == 1 {
			log.Printf("[coordinator] event buffer full, dropped %d events so far (last: %s)", count, ev.Type)
		}
	}
}

// Events returns the read-only event stream.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Dropped returns how many events were dropped due to a full buffer.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close closes the event stream. Callers must stop emitting first.
func (e *Emitter) Close() {
	close(e.events)
}
