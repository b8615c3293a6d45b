package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

const sampleRoster = `
agents:
  - name: scout
    type: researcher
  - name: builder
    type: coder
    capabilities:
      max_concurrent_tasks: 4
      reliability: 0.95
      domains: [implementation, refactoring]
  - name: scribe
    type: documenter
    capabilities:
      tools: [markdown]
`

func TestParseRoster(t *testing.T) {
	specs, err := Parse([]byte(sampleRoster))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("got %d agents, want 3", len(specs))
	}
	if specs[0].Name != "scout" || specs[0].Type != models.AgentTypeResearcher {
		t.Errorf("first entry = %+v", specs[0])
	}
	if specs[0].Capabilities != nil {
		t.Error("entry without a capabilities block should parse as nil")
	}
}

func TestParseRosterRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "agents:\n  - type: coder\n"},
		{"duplicate name", "agents:\n  - name: a\n    type: coder\n  - name: a\n    type: tester\n"},
		{"unknown type", "agents:\n  - name: a\n    type: wizard\n"},
		{"malformed yaml", "agents: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Error("Parse accepted an invalid roster")
			}
		})
	}
}

func TestResolveOverridesDefaults(t *testing.T) {
	specs, err := Parse([]byte(sampleRoster))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	scout := specs[0].Resolve()
	defaults := models.DefaultCapabilities(models.AgentTypeResearcher)
	if scout.MaxConcurrentTasks != defaults.MaxConcurrentTasks || scout.Reliability != defaults.Reliability {
		t.Errorf("scout did not take defaults: %+v", scout)
	}

	builder := specs[1].Resolve()
	if builder.MaxConcurrentTasks != 4 || builder.Reliability != 0.95 {
		t.Errorf("builder overrides not applied: %+v", builder)
	}
	if len(builder.Domains) != 2 || builder.Domains[0] != "implementation" {
		t.Errorf("builder domains = %v", builder.Domains)
	}
	// Unset fields still fall back.
	if builder.Speed != defaults.Speed {
		t.Errorf("builder speed = %v, want the default", builder.Speed)
	}

	scribe := specs[2].Resolve()
	if len(scribe.Tools) != 1 || scribe.Tools[0] != "markdown" {
		t.Errorf("scribe tools = %v", scribe.Tools)
	}
	if len(scribe.Domains) == 0 {
		t.Error("tool override must not drop the default domains")
	}
}

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	if err := os.WriteFile(path, []byte(sampleRoster), 0644); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	specs, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(specs) != 3 {
		t.Errorf("got %d agents, want 3", len(specs))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load must fail on a missing file")
	}
}

func TestWatcherRegistersNewAgents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	initial := "agents:\n  - name: scout\n    type: researcher\n"
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	var registered []string
	w := NewWatcher(path, []string{"scout"}, func(name string, typ models.AgentType, caps models.Capabilities) (string, error) {
		registered = append(registered, name)
		return "id-" + name, nil
	})

	// Drive reload directly; the fsnotify plumbing only decides when it runs.
	w.reload()
	if len(registered) != 0 {
		t.Fatalf("reload re-registered known agents: %v", registered)
	}

	updated := initial + "  - name: builder\n    type: coder\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("update roster: %v", err)
	}
	w.reload()
	if len(registered) != 1 || registered[0] != "builder" {
		t.Fatalf("registered = %v, want [builder]", registered)
	}

	// A second pass is a no-op.
	w.reload()
	if len(registered) != 1 {
		t.Errorf("reload registered duplicates: %v", registered)
	}
}
