// Package monitor implements the passive metrics collector: it polls the
// engine's snapshot APIs on a fixed interval and appends one JSON line per
// sample to a writer. It only ever reads; it can never block or mutate the
// coordination loop.
package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/coordinator"
	"github.com/ShayCichocki/hive/internal/memory"
)

// Engine is the read-only surface the collector samples.
type Engine interface {
	GetSwarmStatus() coordinator.SwarmStatus
	GetMetrics() map[string]any
	MemoryStats() memory.Stats
}

// Sample is one collected snapshot.
type Sample struct {
	Timestamp time.Time               `json:"timestamp"`
	Status    coordinator.SwarmStatus `json:"status"`
	Metrics   map[string]any          `json:"metrics"`
	Memory    memory.Stats            `json:"memory"`
}

// Collector periodically samples an Engine and writes JSON lines.
type Collector struct {
	engine   Engine
	interval time.Duration

	mu sync.Mutex
	w  io.Writer
}

// New creates a Collector writing samples to w every interval.
func New(engine Engine, interval time.Duration, w io.Writer) *Collector {
	return &Collector{engine: engine, interval: interval, w: w}
}

// Run samples until ctx is done. Write errors are logged and sampling
// continues; a broken sink must not affect the run.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Collect(); err != nil {
				log.Printf("[monitor] write sample: %v", err)
			}
		}
	}
}

// Collect takes one sample immediately and appends it to the sink.
func (c *Collector) Collect() error {
	sample := Sample{
		Timestamp: time.Now(),
		Status:    c.engine.GetSwarmStatus(),
		Metrics:   c.engine.GetMetrics(),
		Memory:    c.engine.MemoryStats(),
	}

	line, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.w.Write(append(line, '\n'))
	return err
}
