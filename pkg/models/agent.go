package models

import "time"

// AgentType is the capability archetype of an agent. Each archetype maps to
// a default capability record via DefaultCapabilities.
type AgentType string

const (
	// AgentTypeResearcher gathers information and produces findings.
	AgentTypeResearcher AgentType = "researcher"
	// AgentTypeCoder designs and implements changes.
	AgentTypeCoder AgentType = "coder"
	// AgentTypeAnalyst interprets data and produces reports.
	AgentTypeAnalyst AgentType = "analyst"
	// AgentTypeTester plans and executes validation work.
	AgentTypeTester AgentType = "tester"
	// AgentTypeOptimizer profiles and tunes performance.
	AgentTypeOptimizer AgentType = "optimizer"
	// AgentTypeDocumenter writes documentation and summaries.
	AgentTypeDocumenter AgentType = "documenter"
	// AgentTypeReviewer audits and reviews produced work.
	AgentTypeReviewer AgentType = "reviewer"
	// AgentTypeCoordinator plans and sequences work for other agents.
	AgentTypeCoordinator AgentType = "coordinator"
)

// Valid returns true if the type is a known archetype.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeResearcher, AgentTypeCoder, AgentTypeAnalyst, AgentTypeTester,
		AgentTypeOptimizer, AgentTypeDocumenter, AgentTypeReviewer, AgentTypeCoordinator:
		return true
	default:
		return false
	}
}

// AgentTypes returns all known archetypes in a stable order.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentTypeResearcher, AgentTypeCoder, AgentTypeAnalyst, AgentTypeTester,
		AgentTypeOptimizer, AgentTypeDocumenter, AgentTypeReviewer, AgentTypeCoordinator,
	}
}

// Availability represents whether an agent can accept work.
type Availability string

const (
	// AvailabilityIdle indicates the agent has no assigned tasks.
	AvailabilityIdle Availability = "idle"
	// AvailabilityBusy indicates the agent has at least one assigned task.
	AvailabilityBusy Availability = "busy"
	// AvailabilityUnavailable indicates the agent is excluded from
	// scheduling, typically by the circuit breaker, until a cooldown passes.
	AvailabilityUnavailable Availability = "unavailable"
)

// Valid returns true if the availability is a known value.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityIdle, AvailabilityBusy, AvailabilityUnavailable:
		return true
	default:
		return false
	}
}

// Capabilities is the structured capability record an agent declares at
// registration. It is immutable afterwards.
type Capabilities struct {
	// MaxConcurrentTasks bounds how many tasks the agent may run at once.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// MemoryBudget is the per-task memory ceiling in bytes. Zero means unbounded.
	MemoryBudget int64 `json:"memory_budget,omitempty"`
	// TimeBudget is the per-task CPU time ceiling. Zero means unbounded.
	TimeBudget time.Duration `json:"time_budget,omitempty"`
	// Reliability scores historical success in [0, 1].
	Reliability float64 `json:"reliability"`
	// Speed scores relative execution speed; 1.0 is baseline.
	Speed float64 `json:"speed"`
	// Quality scores output quality in [0, 1].
	Quality float64 `json:"quality"`
	// Domains lists domain capability tags (e.g. research, implementation).
	Domains []string `json:"domains,omitempty"`
	// Tools lists tool capability tags the agent can operate.
	Tools []string `json:"tools,omitempty"`
}

// Tags returns the union of domain and tool tags, deduplicated, in
// declaration order.
func (c Capabilities) Tags() []string {
	seen := make(map[string]bool, len(c.Domains)+len(c.Tools))
	tags := make([]string, 0, len(c.Domains)+len(c.Tools))
	for _, t := range c.Domains {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, t := range c.Tools {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	return tags
}

// HasAll returns true if every required tag appears in the capability tags.
// An empty requirement matches any agent.
func (c Capabilities) HasAll(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(c.Domains)+len(c.Tools))
	for _, t := range c.Domains {
		have[t] = true
	}
	for _, t := range c.Tools {
		have[t] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// defaultDomains maps each archetype to its default domain tags. Selection
// goes through this table; archetypes never imply behavior implicitly.
var defaultDomains = map[AgentType][]string{
	AgentTypeResearcher:  {"research", "analysis"},
	AgentTypeCoder:       {"design", "implementation", "maintenance"},
	AgentTypeAnalyst:     {"analysis", "reporting", "profiling"},
	AgentTypeTester:      {"testing", "validation", "planning"},
	AgentTypeOptimizer:   {"optimization", "profiling", "benchmarking"},
	AgentTypeDocumenter:  {"documentation", "reporting"},
	AgentTypeReviewer:    {"review", "validation", "analysis"},
	AgentTypeCoordinator: {"planning", "coordination"},
}

// DefaultCapabilities returns the baseline capability record for an
// archetype. Callers may override individual fields before registration.
func DefaultCapabilities(t AgentType) Capabilities {
	domains := defaultDomains[t]
	return Capabilities{
		MaxConcurrentTasks: 2,
		Reliability:        0.8,
		Speed:              1.0,
		Quality:            0.8,
		Domains:            append([]string(nil), domains...),
	}
}

// Agent represents a registered worker identity. Load and Availability are
// point-in-time snapshot values filled by the registry.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the unique name the agent registered under.
	Name string `json:"name"`
	// Type is the agent's capability archetype.
	Type AgentType `json:"type"`
	// Capabilities is the immutable capability record.
	Capabilities Capabilities `json:"capabilities"`
	// Load is the number of tasks currently assigned to the agent.
	Load int `json:"load"`
	// Availability is the agent's scheduling state.
	Availability Availability `json:"availability"`
	// RegisteredAt is when the agent joined the swarm.
	RegisteredAt time.Time `json:"registered_at"`
}
