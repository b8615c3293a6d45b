// Package decompose expands an objective into its task skeleton.
// Decomposition is a pure function of the strategy and requirements: the
// same inputs always produce an isomorphic task graph.
package decompose

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrUnknownStrategy reports a strategy with no skeleton.
var ErrUnknownStrategy = errors.New("decompose: unknown strategy")

// step is one entry in a strategy skeleton. Dependencies reference earlier
// steps by name and resolve to task ids during expansion.
type step struct {
	name string
	tag  string // phase tag required of the executing agent
	deps []string
}

// skeletons is the fixed dispatch table from strategy to task skeleton.
var skeletons = map[models.Strategy][]step{
	models.StrategyAuto: {
		{name: "analyze", tag: "analysis"},
		{name: "plan", tag: "planning", deps: []string{"analyze"}},
		{name: "execute", tag: "implementation", deps: []string{"plan"}},
		{name: "validate", tag: "validation", deps: []string{"execute"}},
	},
	models.StrategyResearch: {
		{name: "research", tag: "research"},
		{name: "analyze", tag: "analysis", deps: []string{"research"}},
		{name: "document", tag: "documentation", deps: []string{"analyze"}},
	},
	models.StrategyDevelopment: {
		{name: "design", tag: "design"},
		{name: "implement", tag: "implementation", deps: []string{"design"}},
		{name: "test", tag: "testing", deps: []string{"implement"}},
		{name: "review", tag: "review", deps: []string{"implement"}},
		{name: "document", tag: "documentation", deps: []string{"test", "review"}},
	},
	models.StrategyAnalysis: {
		{name: "collect", tag: "research"},
		{name: "analyze", tag: "analysis", deps: []string{"collect"}},
		{name: "report", tag: "reporting", deps: []string{"analyze"}},
	},
	models.StrategyTesting: {
		{name: "plan-tests", tag: "planning"},
		{name: "run-tests", tag: "testing", deps: []string{"plan-tests"}},
		{name: "report-results", tag: "reporting", deps: []string{"run-tests"}},
	},
	models.StrategyOptimization: {
		{name: "profile", tag: "profiling"},
		{name: "optimize", tag: "optimization", deps: []string{"profile"}},
		{name: "benchmark", tag: "benchmarking", deps: []string{"optimize"}},
	},
	models.StrategyMaintenance: {
		{name: "audit", tag: "review"},
		{name: "patch", tag: "maintenance", deps: []string{"audit"}},
		{name: "verify", tag: "validation", deps: []string{"patch"}},
	},
}

// Tasks expands the objective's strategy skeleton into pending tasks. Each
// task requires its phase tag plus the objective's extra required tags, and
// earlier phases carry higher priority so they dispatch first when several
// tasks are ready at once.
func Tasks(objective *models.Objective) ([]*models.Task, error) {
	steps, ok := skeletons[objective.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, objective.Strategy)
	}

	now := time.Now()
	nameToID := make(map[string]string, len(steps))
	tasks := make([]*models.Task, len(steps))

	for i, st := range steps {
		id := uuid.New().String()[:8]
		nameToID[st.name] = id

		required := make([]string, 0, 1+len(objective.Requirements.RequiredTags))
		required = append(required, st.tag)
		required = append(required, objective.Requirements.RequiredTags...)

		tasks[i] = &models.Task{
			ID:           id,
			ObjectiveID:  objective.ID,
			Name:         st.name,
			Description:  fmt.Sprintf("%s phase of %q", st.name, objective.Name),
			RequiredTags: required,
			Priority:     len(steps) - i,
			Status:       models.TaskStatusPending,
			CreatedAt:    now,
		}
	}

	for i, st := range steps {
		for _, dep := range st.deps {
			depID, ok := nameToID[dep]
			if !ok {
				return nil, fmt.Errorf("decompose: unknown dependency %q for step %q", dep, st.name)
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}

	return tasks, nil
}

// Strategies lists the strategies with a skeleton, in models order.
func Strategies() []models.Strategy {
	out := make([]models.Strategy, 0, len(skeletons))
	for _, s := range models.Strategies() {
		if _, ok := skeletons[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
