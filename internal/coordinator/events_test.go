package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEmitter(2)
	for i := 0; i < 5; i++ {
		e.Emit(Event{Type: EventTaskCompleted, Message: "tick"})
	}

	if got := e.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}

	e.Close()
	var received int
	for ev := range e.Events() {
		received++
		if ev.Timestamp.IsZero() {
			t.Error("emitted event has no timestamp")
		}
	}
	if received != 2 {
		t.Errorf("received %d events, want the 2 buffered", received)
	}
}

func TestDebugLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}
	l.Log("loop %s dispatched %d tasks", "obj1", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "loop obj1 dispatched 3 tasks") {
		t.Errorf("log missing entry:\n%s", data)
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	var l *DebugLogger
	l.Log("nil receiver")
	if err := l.Close(); err != nil {
		t.Errorf("nil Close errored: %v", err)
	}

	nop := NopLogger()
	nop.Log("no file")
	if err := nop.Close(); err != nil {
		t.Errorf("nop Close errored: %v", err)
	}
}
