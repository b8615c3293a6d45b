package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

func registerTestAgent(t *testing.T, r *Registry, name string, typ models.AgentType) string {
	t.Helper()
	id, err := r.Register(name, typ, models.DefaultCapabilities(typ))
	if err != nil {
		t.Fatalf("Register %s failed: %v", name, err)
	}
	return id
}

func TestRegisterAndList(t *testing.T) {
	r := New()

	id1 := registerTestAgent(t, r, "scout", models.AgentTypeResearcher)
	id2 := registerTestAgent(t, r, "builder", models.AgentTypeCoder)

	agents := r.List()
	if len(agents) != 2 {
		t.Fatalf("List returned %d agents, want 2", len(agents))
	}
	if agents[0].ID != id1 || agents[1].ID != id2 {
		t.Errorf("List order = %s,%s, want registration order %s,%s",
			agents[0].ID, agents[1].ID, id1, id2)
	}
	if agents[0].Availability != models.AvailabilityIdle {
		t.Errorf("new agent availability = %q, want idle", agents[0].Availability)
	}
	if agents[0].Load != 0 {
		t.Errorf("new agent load = %d, want 0", agents[0].Load)
	}
	if len(id1) != 8 {
		t.Errorf("agent id %q length = %d, want 8", id1, len(id1))
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := New()
	registerTestAgent(t, r, "scout", models.AgentTypeResearcher)

	_, err := r.Register("scout", models.AgentTypeCoder, models.DefaultCapabilities(models.AgentTypeCoder))
	if err == nil {
		t.Fatal("duplicate Register should fail")
	}
	var dup *DuplicateAgentError
	if !errors.As(err, &dup) {
		t.Fatalf("error type = %T, want *DuplicateAgentError", err)
	}
	if dup.Name != "scout" {
		t.Errorf("DuplicateAgentError.Name = %q, want %q", dup.Name, "scout")
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := New()

	if _, err := r.Register("", models.AgentTypeCoder, models.Capabilities{}); err == nil {
		t.Error("Register with empty name should fail")
	}
	if _, err := r.Register("x", models.AgentType("wizard"), models.Capabilities{}); err == nil {
		t.Error("Register with unknown type should fail")
	}
}

func TestCapabilitiesOf(t *testing.T) {
	r := New()
	id := registerTestAgent(t, r, "scout", models.AgentTypeResearcher)

	caps, err := r.CapabilitiesOf(id)
	if err != nil {
		t.Fatalf("CapabilitiesOf failed: %v", err)
	}
	if caps.Reliability != 0.8 {
		t.Errorf("Reliability = %v, want 0.8", caps.Reliability)
	}

	// The returned record is a copy.
	caps.Domains[0] = "tampered"
	again, _ := r.CapabilitiesOf(id)
	if again.Domains[0] == "tampered" {
		t.Error("CapabilitiesOf should return a copy")
	}
}

func TestCapabilitiesOfUnknown(t *testing.T) {
	r := New()

	_, err := r.CapabilitiesOf("missing1")
	if err == nil {
		t.Fatal("CapabilitiesOf unknown id should fail")
	}
	var unknown *UnknownAgentError
	if !errors.As(err, &unknown) {
		t.Fatalf("error type = %T, want *UnknownAgentError", err)
	}
	if unknown.ID != "missing1" {
		t.Errorf("UnknownAgentError.ID = %q, want %q", unknown.ID, "missing1")
	}
}

func TestTryAcquireRespectsCap(t *testing.T) {
	r := New()
	caps := models.DefaultCapabilities(models.AgentTypeCoder)
	caps.MaxConcurrentTasks = 2
	id, err := r.Register("builder", models.AgentTypeCoder, caps)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !r.TryAcquire(id) {
		t.Fatal("first TryAcquire should succeed")
	}
	if !r.TryAcquire(id) {
		t.Fatal("second TryAcquire should succeed")
	}
	if r.TryAcquire(id) {
		t.Fatal("third TryAcquire should fail at MaxConcurrentTasks=2")
	}

	r.Release(id)
	if !r.TryAcquire(id) {
		t.Fatal("TryAcquire after Release should succeed")
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	r := New()
	caps := models.DefaultCapabilities(models.AgentTypeCoder)
	caps.MaxConcurrentTasks = 3
	id, err := r.Register("builder", models.AgentTypeCoder, caps)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	const claimers = 24
	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire(id) {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := acquired.Load(); got != 3 {
		t.Errorf("concurrent claims succeeded = %d, want exactly 3", got)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	r := New()
	id := registerTestAgent(t, r, "scout", models.AgentTypeResearcher)

	r.Release(id)
	r.Release(id)

	agents := r.List()
	if agents[0].Load != 0 {
		t.Errorf("load after spurious releases = %d, want 0", agents[0].Load)
	}
}

func TestMarkBusyIdle(t *testing.T) {
	r := New()
	id := registerTestAgent(t, r, "scout", models.AgentTypeResearcher)

	if err := r.MarkBusy(id); err != nil {
		t.Fatalf("MarkBusy failed: %v", err)
	}
	if got := r.Snapshot()[0].Availability; got != models.AvailabilityBusy {
		t.Errorf("availability after MarkBusy = %q, want busy", got)
	}

	if err := r.MarkIdle(id); err != nil {
		t.Fatalf("MarkIdle failed: %v", err)
	}
	if got := r.Snapshot()[0].Availability; got != models.AvailabilityIdle {
		t.Errorf("availability after MarkIdle = %q, want idle", got)
	}

	if err := r.MarkBusy("missing1"); err == nil {
		t.Error("MarkBusy on unknown id should fail")
	}
}

func TestLoadDrivesAvailability(t *testing.T) {
	r := New()
	id := registerTestAgent(t, r, "scout", models.AgentTypeResearcher)

	r.TryAcquire(id)
	if got := r.Snapshot()[0].Availability; got != models.AvailabilityBusy {
		t.Errorf("availability with held slot = %q, want busy", got)
	}

	r.Release(id)
	if got := r.Snapshot()[0].Availability; got != models.AvailabilityIdle {
		t.Errorf("availability after release = %q, want idle", got)
	}
}

func TestSuspendAndLazyReadmission(t *testing.T) {
	r := New()
	id := registerTestAgent(t, r, "scout", models.AgentTypeResearcher)

	if err := r.Suspend(id, time.Now().Add(25*time.Millisecond)); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	if got := r.Snapshot()[0].Availability; got != models.AvailabilityUnavailable {
		t.Errorf("availability while suspended = %q, want unavailable", got)
	}
	if r.TryAcquire(id) {
		t.Error("TryAcquire on suspended agent should fail")
	}

	time.Sleep(40 * time.Millisecond)

	if got := r.Snapshot()[0].Availability; got != models.AvailabilityIdle {
		t.Errorf("availability after cooldown = %q, want idle", got)
	}
	if !r.TryAcquire(id) {
		t.Error("TryAcquire after cooldown should succeed")
	}
}

func TestSnapshotHasAll(t *testing.T) {
	r := New()
	caps := models.Capabilities{
		MaxConcurrentTasks: 1,
		Domains:            []string{"research", "analysis"},
		Tools:              []string{"web-search"},
	}
	if _, err := r.Register("scout", models.AgentTypeResearcher, caps); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	view := r.Snapshot()[0]

	tests := []struct {
		name     string
		required []string
		want     bool
	}{
		{"empty requirement", nil, true},
		{"single domain", []string{"research"}, true},
		{"domain and tool", []string{"analysis", "web-search"}, true},
		{"missing tag", []string{"implementation"}, false},
		{"partial match", []string{"research", "implementation"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := view.HasAll(tt.required); got != tt.want {
				t.Errorf("HasAll(%v) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestRegisterDefaultsMaxConcurrent(t *testing.T) {
	r := New()
	id, err := r.Register("bare", models.AgentTypeCoder, models.Capabilities{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !r.TryAcquire(id) {
		t.Fatal("first TryAcquire should succeed with defaulted cap")
	}
	if r.TryAcquire(id) {
		t.Error("second TryAcquire should fail with defaulted cap of 1")
	}
}
