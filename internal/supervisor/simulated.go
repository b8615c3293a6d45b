package supervisor

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/pkg/models"
)

// SimulatedRunner is the built-in TaskRunner used by the CLI and end-to-end
// tests. It sleeps for a latency scaled by the agent's speed score and
// produces a synthetic result. FailEvery > 0 makes every Nth execution fail,
// which exercises the retry and breaker paths deterministically.
type SimulatedRunner struct {
	// BaseLatency is the nominal per-task duration before speed scaling.
	BaseLatency time.Duration
	// FailEvery fails every Nth Run call across the runner. Zero never fails.
	FailEvery int

	calls chan int
}

// NewSimulatedRunner creates a runner with the given nominal latency.
func NewSimulatedRunner(baseLatency time.Duration, failEvery int) *SimulatedRunner {
	r := &SimulatedRunner{
		BaseLatency: baseLatency,
		FailEvery:   failEvery,
		calls:       make(chan int, 1),
	}
	r.calls <- 0
	return r
}

// Run implements TaskRunner.
func (r *SimulatedRunner) Run(ctx context.Context, task models.Task, agent registry.AgentView) (*models.TaskResult, error) {
	n := <-r.calls
	n++
	r.calls <- n

	latency := r.BaseLatency
	if agent.Speed > 0 {
		latency = time.Duration(float64(latency) / agent.Speed)
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if r.FailEvery > 0 && n%r.FailEvery == 0 {
		return nil, fmt.Errorf("simulated failure on execution %d", n)
	}

	h := fnv.New32a()
	h.Write([]byte(task.ID))
	return &models.TaskResult{
		AgentID: agent.ID,
		Summary: fmt.Sprintf("%s done by %s", task.Name, agent.Name),
		Payload: []byte(fmt.Sprintf(`{"task":%q,"checksum":%d}`, task.Name, h.Sum32())),
		Usage: models.ResourceUsage{
			MemoryBytes: 1 << 20,
			CPUTime:     latency,
		},
	}, nil
}
