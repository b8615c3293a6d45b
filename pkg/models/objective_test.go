package models

import (
	"testing"
)

func TestStrategy_Valid(t *testing.T) {
	for _, s := range Strategies() {
		if !s.Valid() {
			t.Errorf("Strategy(%q).Valid() = false, want true", s)
		}
	}

	for _, bad := range []Strategy{"", "deploy", "Research"} {
		if bad.Valid() {
			t.Errorf("Strategy(%q).Valid() = true, want false", bad)
		}
	}
}

func TestObjectiveStatus_Terminal(t *testing.T) {
	tests := []struct {
		status ObjectiveStatus
		want   bool
	}{
		{ObjectivePending, false},
		{ObjectiveRunning, false},
		{ObjectiveCompleted, true},
		{ObjectiveFailed, true},
		{ObjectiveTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("ObjectiveStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestObjectiveStatus_StringValues(t *testing.T) {
	tests := []struct {
		status ObjectiveStatus
		want   string
	}{
		{ObjectivePending, "pending"},
		{ObjectiveRunning, "running"},
		{ObjectiveCompleted, "completed"},
		{ObjectiveFailed, "failed"},
		{ObjectiveTimedOut, "timed_out"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := string(tt.status); got != tt.want {
				t.Errorf("string(ObjectiveStatus) = %q, want %q", got, tt.want)
			}
		})
	}
}
