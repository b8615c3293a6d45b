// Package roster loads the swarm agent roster from a YAML file and
// hot-registers agents added to it while a run is active. Removing an entry
// has no effect; agent identities last for the whole run.
package roster

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/hive/pkg/models"
)

// CapabilitySpec mirrors models.Capabilities with YAML tags. Absent fields
// fall back to the archetype defaults.
type CapabilitySpec struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	MemoryBudget       int64         `yaml:"memory_budget"`
	TimeBudget         time.Duration `yaml:"time_budget"`
	Reliability        float64       `yaml:"reliability"`
	Speed              float64       `yaml:"speed"`
	Quality            float64       `yaml:"quality"`
	Domains            []string      `yaml:"domains"`
	Tools              []string      `yaml:"tools"`
}

// AgentSpec is one roster entry.
type AgentSpec struct {
	Name         string           `yaml:"name"`
	Type         models.AgentType `yaml:"type"`
	Capabilities *CapabilitySpec  `yaml:"capabilities"`
}

// Resolve produces the capability record for the entry, starting from the
// archetype defaults and overriding whatever the spec declares.
func (s AgentSpec) Resolve() models.Capabilities {
	caps := models.DefaultCapabilities(s.Type)
	c := s.Capabilities
	if c == nil {
		return caps
	}
	if c.MaxConcurrentTasks > 0 {
		caps.MaxConcurrentTasks = c.MaxConcurrentTasks
	}
	if c.MemoryBudget > 0 {
		caps.MemoryBudget = c.MemoryBudget
	}
	if c.TimeBudget > 0 {
		caps.TimeBudget = c.TimeBudget
	}
	if c.Reliability > 0 {
		caps.Reliability = c.Reliability
	}
	if c.Speed > 0 {
		caps.Speed = c.Speed
	}
	if c.Quality > 0 {
		caps.Quality = c.Quality
	}
	if len(c.Domains) > 0 {
		caps.Domains = append([]string(nil), c.Domains...)
	}
	if len(c.Tools) > 0 {
		caps.Tools = append([]string(nil), c.Tools...)
	}
	return caps
}

// rosterFile is the swarm.yaml document shape.
type rosterFile struct {
	Agents []AgentSpec `yaml:"agents"`
}

// Load reads and validates a roster file.
func Load(path string) ([]AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates roster YAML.
func Parse(data []byte) ([]AgentSpec, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("roster: parse: %w", err)
	}

	seen := make(map[string]bool, len(f.Agents))
	for i, a := range f.Agents {
		if a.Name == "" {
			return nil, fmt.Errorf("roster: agent %d has no name", i)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("roster: duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
		if !a.Type.Valid() {
			return nil, fmt.Errorf("roster: agent %q has unknown type %q", a.Name, a.Type)
		}
	}
	return f.Agents, nil
}
