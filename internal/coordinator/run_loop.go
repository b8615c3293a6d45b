package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/pkg/models"
)

// runLoop drives one objective: every tick it drains completions, checks the
// terminal conditions, and dispatches whatever the scheduler assigns. The
// loop goroutine is the only writer of this objective's task transitions, so
// readiness is always computed from a consistent snapshot.
func (c *Coordinator) runLoop(ctx context.Context, objectiveID string, deadline time.Time) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	// Sized so every agent slot can report without blocking the supervisor.
	done := make(chan supervisor.Outcome, c.cfg.MaxAgents*4)
	active := map[string]struct{}{objectiveID: {}}
	namespace := c.namespaceFor(objectiveID)

	for {
		select {
		case <-ctx.Done():
			cancelled := c.sched.CancelObjective(objectiveID, "objective cancelled")
			c.logger.Log("[loop %s] cancelled, failed %d unfinished tasks", objectiveID, len(cancelled))
			c.setTerminal(objectiveID, models.ObjectiveFailed, "objective cancelled")
			return

		case out := <-done:
			c.applyOutcome(objectiveID, out)

		case <-ticker.C:
			// Apply every completion that arrived before this tick so the
			// readiness pass never sees a partially-applied batch.
			for drained := false; !drained; {
				select {
				case out := <-done:
					c.applyOutcome(objectiveID, out)
				default:
					drained = true
				}
			}

			if c.finishIfTerminal(objectiveID, deadline) {
				return
			}
			if c.paused.Load() {
				continue
			}

			views := c.reg.Snapshot()
			result := c.sched.Tick(views, active)
			c.dispatch(ctx, result.Assignments, views, namespace, done)

			if len(result.Starved) > 0 {
				c.metrics.starvedTicks.Add(1)
				c.logger.Log("[loop %s] %d ready tasks starved this tick", objectiveID, len(result.Starved))
				c.emitter.Emit(Event{
					Type:        EventNoEligibleAgent,
					ObjectiveID: objectiveID,
					Message:     fmt.Sprintf("%d ready tasks found no eligible agent", len(result.Starved)),
				})
			}
		}
	}
}

// dispatch hands each assignment to the supervisor. A lost slot race returns
// the task to ready; that is the same backpressure as finding no agent.
func (c *Coordinator) dispatch(ctx context.Context, assignments []scheduler.Assignment, views []registry.AgentView, namespace string, done chan<- supervisor.Outcome) {
	byID := make(map[string]registry.AgentView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}

	for _, a := range assignments {
		view, ok := byID[a.AgentID]
		if !ok {
			c.sched.Unassign(a.Task.ID)
			continue
		}
		if !c.sup.Dispatch(ctx, a, view, namespace, done) {
			c.sched.Unassign(a.Task.ID)
			c.logger.Log("[dispatch] task %s lost slot race on agent %s", a.Task.ID, a.AgentID)
			continue
		}
		c.sched.MarkRunning(a.Task.ID)

		evType := EventTaskAssigned
		msg := fmt.Sprintf("task %s assigned to %s", a.Task.Name, view.Name)
		if a.Stolen {
			evType = EventTaskStolen
			msg = fmt.Sprintf("task %s stolen by %s from %s's queue", a.Task.Name, view.Name, a.Task.HomeAgent)
			c.metrics.tasksStolen.Add(1)
		}
		c.emitter.Emit(Event{
			Type:        evType,
			ObjectiveID: a.Task.ObjectiveID,
			TaskID:      a.Task.ID,
			AgentID:     a.AgentID,
			Message:     msg,
		})
	}
}

// applyOutcome folds one completed dispatch into task state: success
// completes the task and unblocks dependents, failure retries or exhausts it
// under the fault-tolerance policy.
func (c *Coordinator) applyOutcome(objectiveID string, out supervisor.Outcome) {
	if out.Tripped {
		c.metrics.breakerTrips.Add(1)
		c.emitter.Emit(Event{
			Type:        EventAgentSuspended,
			ObjectiveID: objectiveID,
			AgentID:     out.AgentID,
			Message:     fmt.Sprintf("agent %s suspended for %s after repeated failures", out.AgentID, c.cfg.BreakerCooldown),
		})
	}

	if out.Err == nil {
		c.sched.Complete(out.Task.ID, out.Result)
		c.logger.Log("[loop %s] task %s completed by %s", objectiveID, out.Task.ID, out.AgentID)
		c.emitter.Emit(Event{
			Type:        EventTaskCompleted,
			ObjectiveID: objectiveID,
			TaskID:      out.Task.ID,
			AgentID:     out.AgentID,
			Message:     fmt.Sprintf("task %s completed", out.Task.Name),
		})
		return
	}

	if out.Task.RetryCount < c.cfg.MaxRetries {
		retries := c.sched.Requeue(out.Task.ID, out.Err.Error())
		c.metrics.tasksRetried.Add(1)
		c.logger.Log("[loop %s] task %s requeued (retry %d/%d): %v",
			objectiveID, out.Task.ID, retries, c.cfg.MaxRetries, out.Err)
		c.emitter.Emit(Event{
			Type:        EventTaskRetried,
			ObjectiveID: objectiveID,
			TaskID:      out.Task.ID,
			AgentID:     out.AgentID,
			Message:     fmt.Sprintf("task %s retry %d/%d", out.Task.Name, retries, c.cfg.MaxRetries),
			Err:         out.Err,
		})
		return
	}

	reason := fmt.Sprintf("exhausted after %d retries: %v", out.Task.RetryCount, out.Err)
	c.sched.Exhaust(out.Task.ID, reason)
	c.logger.Log("[loop %s] task %s %s", objectiveID, out.Task.ID, reason)
	c.emitter.Emit(Event{
		Type:        EventTaskExhausted,
		ObjectiveID: objectiveID,
		TaskID:      out.Task.ID,
		AgentID:     out.AgentID,
		Message:     fmt.Sprintf("task %s failed permanently", out.Task.Name),
		Err:         out.Err,
	})

	if c.cfg.FaultTolerance == config.FaultStrict {
		cancelled := c.sched.CancelObjective(objectiveID, "cancelled: sibling task "+out.Task.ID+" exhausted")
		c.logger.Log("[loop %s] strict policy cancelled %d remaining tasks", objectiveID, len(cancelled))
	}
}

// finishIfTerminal checks the objective's terminal conditions in order:
// wall-clock timeout, then task-set completion or a stall with no
// dispatchable work. Returns true when the loop should exit.
func (c *Coordinator) finishIfTerminal(objectiveID string, deadline time.Time) bool {
	counts := c.sched.Counts(objectiveID)

	if !counts.Terminal() && time.Now().After(deadline) {
		c.sched.CancelObjective(objectiveID, "objective timed out")
		timeoutErr := &ObjectiveTimeoutError{
			ObjectiveID: objectiveID,
			MaxDuration: c.objectiveMaxDuration(objectiveID),
		}
		c.setTerminal(objectiveID, models.ObjectiveTimedOut, timeoutErr.Error())
		return true
	}

	if !counts.Terminal() && !counts.Stuck() {
		return false
	}

	if counts.Failed == 0 && counts.Completed == counts.Total {
		c.setTerminal(objectiveID, models.ObjectiveCompleted, "")
		return true
	}

	// Stuck: unfinished tasks remain but every one of them is blocked behind
	// a failed dependency. They can never run, so the objective is settled by
	// the same rules as a fully terminal task set.
	if c.cfg.FaultTolerance == config.FaultStrict {
		if counts.Stuck() {
			c.sched.CancelObjective(objectiveID, "cancelled: blocked by failed dependency")
			counts = c.sched.Counts(objectiveID)
		}
		c.setTerminal(objectiveID, models.ObjectiveFailed,
			fmt.Sprintf("%d of %d tasks failed under strict fault tolerance", counts.Failed, counts.Total))
		return true
	}

	threshold := c.objectiveQualityThreshold(objectiveID)
	ratio := 0.0
	if counts.Total > 0 {
		ratio = float64(counts.Completed) / float64(counts.Total)
	}
	if counts.Stuck() {
		// Blocked tasks can no longer change the ratio; settle now.
		c.sched.CancelObjective(objectiveID, "cancelled: blocked by failed dependency")
	}

	if ratio >= threshold {
		c.setTerminal(objectiveID, models.ObjectiveCompleted, "")
	} else {
		c.setTerminal(objectiveID, models.ObjectiveFailed,
			fmt.Sprintf("completed ratio %.2f below quality threshold %.2f", ratio, threshold))
	}
	return true
}

func (c *Coordinator) objectiveMaxDuration(objectiveID string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if obj, ok := c.objectives[objectiveID]; ok {
		return obj.Requirements.MaxDuration
	}
	return c.cfg.MaxDuration
}

func (c *Coordinator) objectiveQualityThreshold(objectiveID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if obj, ok := c.objectives[objectiveID]; ok {
		return obj.Requirements.QualityThreshold
	}
	return c.cfg.QualityThreshold
}
