package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}

	if TaskStatus("pending").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusQueued, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%q.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestTaskPriorityOrdering(t *testing.T) {
	// Critical must sort before high, high before medium, medium before low.
	if !(PriorityCritical < PriorityHigh && PriorityHigh < PriorityMedium && PriorityMedium < PriorityLow) {
		t.Error("priority constants are not ordered critical < high < medium < low")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want TaskPriority
	}{
		{"critical", PriorityCritical},
		{"high", PriorityHigh},
		{"medium", PriorityMedium},
		{"low", PriorityLow},
		{"bogus", PriorityMedium},
		{"", PriorityMedium},
	}

	for _, tt := range tests {
		if got := ParsePriority(tt.in); got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPriorityStringRoundTrip(t *testing.T) {
	for _, p := range []TaskPriority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow} {
		if got := ParsePriority(p.String()); got != p {
			t.Errorf("ParsePriority(%q) = %v, want %v", p.String(), got, p)
		}
	}
}
