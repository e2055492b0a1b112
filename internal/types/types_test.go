package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{StatusNew, StatusInProgress, true},
		{StatusNew, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusInProgress, StatusNew, false},
		{StatusFailed, StatusNew, true},
		{StatusFailed, StatusInProgress, true},
		{StatusBlocked, StatusNew, true},
		{StatusBlocked, StatusInProgress, false},
		{StatusCompleted, StatusNew, false},
		{StatusCompleted, StatusInProgress, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("refactor_0001", IssueDuplicate, PriorityHigh, "Merge duplicate parsers", []string{"a.go", "b.go"})

	if task.Status != StatusNew {
		t.Fatalf("expected new, got %s", task.Status)
	}
	if !task.CanExecute(nil) {
		t.Fatal("fresh task should be executable")
	}

	if err := task.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Status != StatusInProgress || task.Attempts != 1 {
		t.Fatalf("after start: status=%s attempts=%d", task.Status, task.Attempts)
	}
	if task.CanExecute(nil) {
		t.Fatal("in_progress task should not be executable")
	}

	if err := task.Complete("merged into a.go"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != StatusCompleted || task.CompletedAt == nil {
		t.Fatalf("after complete: status=%s", task.Status)
	}
	if err := task.Start(); err == nil {
		t.Fatal("completed task must not restart")
	}
}

func TestTaskRetryExhaustion(t *testing.T) {
	task := NewTask("refactor_0002", IssueDeadCode, PriorityMedium, "Remove unused helpers", []string{"x.go"})

	for i := 0; i < DefaultMaxAttempts; i++ {
		if !task.CanExecute(nil) {
			t.Fatalf("attempt %d: task should be executable", i+1)
		}
		if err := task.Start(); err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
		if err := task.Fail("boom"); err != nil {
			t.Fatalf("fail %d: %v", i+1, err)
		}
	}

	if task.CanExecute(nil) {
		t.Fatalf("task with %d attempts must not be executable", task.Attempts)
	}
}

func TestCanExecuteDependencies(t *testing.T) {
	task := NewTask("refactor_0003", IssueArchitecture, PriorityLow, "Move handler", []string{"h.go"})
	task.DependsOn = []string{"refactor_0001", "refactor_0002"}

	if task.CanExecute(map[string]bool{"refactor_0001": true}) {
		t.Fatal("task with incomplete dependency must not execute")
	}
	if !task.CanExecute(map[string]bool{"refactor_0001": true, "refactor_0002": true}) {
		t.Fatal("task with all dependencies complete must execute")
	}
}

func TestTaskJSONRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	task := &RefactoringTask{
		ID:          "refactor_0042",
		Type:        IssueConflict,
		Priority:    PriorityCritical,
		Approach:    ApproachDeveloperReview,
		Title:       "Conflicting session stores",
		Description: "Two session store implementations disagree on TTL.",
		Subtype:     "session_store",
		TargetFiles: []string{"internal/a/store.go", "internal/b/store.go"},
		DependsOn:   []string{"refactor_0007"},
		Status:      StatusInProgress,
		Attempts:    2,
		MaxAttempts: 3,
		CreatedAt:   started.Add(-time.Hour),
		StartedAt:   &started,
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := TaskFromJSON(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != task.ID || got.Type != task.Type || got.Priority != task.Priority ||
		got.Approach != task.Approach || got.Status != task.Status ||
		got.Attempts != task.Attempts || got.MaxAttempts != task.MaxAttempts {
		t.Fatalf("round trip changed scalar fields: %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("created_at: got %v want %v", got.CreatedAt, task.CreatedAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(*task.StartedAt) {
		t.Errorf("started_at: got %v want %v", got.StartedAt, task.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at should stay unset, got %v", got.CompletedAt)
	}
	if len(got.TargetFiles) != 2 || got.TargetFiles[0] != "internal/a/store.go" {
		t.Errorf("target files: %v", got.TargetFiles)
	}
}

func TestTaskFromJSONDefaultsMaxAttempts(t *testing.T) {
	data := []byte(`{"id":"refactor_0001","type":"duplicate","priority":"high",
		"approach":"autonomous","title":"t","target_files":["a.go"],
		"status":"new","created_at":"2026-01-02T15:04:05Z"}`)
	task, err := TaskFromJSON(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("max attempts: got %d want %d", task.MaxAttempts, DefaultMaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	task := NewTask("refactor_0001", IssueDuplicate, PriorityHigh, "t", []string{"a.go"})
	if err := task.Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	bad := *task
	bad.Type = "nonsense"
	if err := bad.Validate(); err == nil {
		t.Error("invalid issue type accepted")
	}

	bad = *task
	bad.TargetFiles = nil
	if err := bad.Validate(); err == nil {
		t.Error("task without target files accepted")
	}
}

func TestNeedsReview(t *testing.T) {
	task := NewTask("refactor_0004", IssueStructure, PriorityMedium, "Restructure api", []string{"api.go"})
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	if err := task.NeedsReview("layout decision required"); err != nil {
		t.Fatalf("needs review: %v", err)
	}
	if task.Status != StatusBlocked || task.Approach != ApproachDeveloperReview {
		t.Fatalf("after needs review: status=%s approach=%s", task.Status, task.Approach)
	}
	if err := task.Rearm(); err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if task.Status != StatusNew {
		t.Fatalf("after rearm: %s", task.Status)
	}
}

func TestForceRetryKeepsAttempts(t *testing.T) {
	task := NewTask("refactor_0005", IssueDuplicate, PriorityHigh, "t", []string{"a.go"})
	task.Start()
	task.ForceRetry("mandatory analysis incomplete")

	if task.Status != StatusNew || task.Attempts != 1 {
		t.Fatalf("after force retry: status=%s attempts=%d", task.Status, task.Attempts)
	}
	if task.RetryReason() != "mandatory analysis incomplete" {
		t.Errorf("retry reason: %q", task.RetryReason())
	}
	if !task.CanExecute(nil) {
		t.Fatal("force-retried task must be selectable again")
	}
}

func TestPriorityOrder(t *testing.T) {
	if PriorityCritical.Order() >= PriorityHigh.Order() {
		t.Error("critical must sort before high")
	}
	if PriorityHigh.Order() >= PriorityMedium.Order() {
		t.Error("high must sort before medium")
	}
	if PriorityMedium.Order() >= PriorityLow.Order() {
		t.Error("medium must sort before low")
	}
}
