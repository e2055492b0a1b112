// Package types defines the core data structures for the autonomy pipeline.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// IssueType categorizes what kind of code-health problem a task addresses.
type IssueType string

const (
	IssueDuplicate    IssueType = "duplicate"
	IssueComplexity   IssueType = "complexity"
	IssueDeadCode     IssueType = "dead_code"
	IssueArchitecture IssueType = "architecture"
	IssueConflict     IssueType = "conflict"
	IssueIntegration  IssueType = "integration"
	IssueNaming       IssueType = "naming"
	IssueStructure    IssueType = "structure"
)

// IsValid returns true if the issue type is one of the known values.
func (t IssueType) IsValid() bool {
	switch t {
	case IssueDuplicate, IssueComplexity, IssueDeadCode, IssueArchitecture,
		IssueConflict, IssueIntegration, IssueNaming, IssueStructure:
		return true
	}
	return false
}

// Priority controls selection order within the task queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IsValid returns true if the priority is one of the known values.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Order maps priorities onto sortable integers (critical first).
func (p Priority) Order() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// FixApproach says how a task should be handled: fixed autonomously,
// escalated to a human, or routed to the coding phase for new code.
type FixApproach string

const (
	ApproachAutonomous      FixApproach = "autonomous"
	ApproachDeveloperReview FixApproach = "developer_review"
	ApproachNeedsNewCode    FixApproach = "needs_new_code"
)

// IsValid returns true if the approach is one of the known values.
func (a FixApproach) IsValid() bool {
	switch a {
	case ApproachAutonomous, ApproachDeveloperReview, ApproachNeedsNewCode:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a refactoring task.
type TaskStatus string

const (
	StatusNew        TaskStatus = "new"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusBlocked    TaskStatus = "blocked"
)

// IsValid returns true if the status is one of the known values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// ValidTransitions returns the statuses reachable from the current one.
// failed→new is the retry re-arm; completed is terminal.
func (s TaskStatus) ValidTransitions() []TaskStatus {
	switch s {
	case StatusNew:
		return []TaskStatus{StatusInProgress}
	case StatusInProgress:
		return []TaskStatus{StatusCompleted, StatusFailed, StatusBlocked}
	case StatusFailed:
		return []TaskStatus{StatusNew, StatusInProgress}
	case StatusBlocked:
		return []TaskStatus{StatusNew}
	case StatusCompleted:
		return []TaskStatus{}
	default:
		return []TaskStatus{}
	}
}

// CanTransitionTo checks if a transition to the target status is allowed.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// DefaultMaxAttempts bounds how many times a task may be started before
// it is force-escalated instead of retried.
const DefaultMaxAttempts = 3

// RefactoringTask is a single unit of refactoring work flowing through
// the pipeline. Tasks are created from analyzer findings, executed by
// the refactoring phase, and either resolved, escalated, or blocked.
type RefactoringTask struct {
	ID          string      `json:"id"`
	Type        IssueType   `json:"type"`
	Priority    Priority    `json:"priority"`
	Approach    FixApproach `json:"approach"`
	Title       string      `json:"title"`
	Description string      `json:"description"`

	// Subtype and ReviewHint carry structured routing information so
	// downstream phases never have to pattern-match on Title.
	Subtype    string `json:"subtype,omitempty"`
	ReviewHint string `json:"review_hint,omitempty"`

	TargetFiles []string `json:"target_files"`
	DependsOn   []string `json:"depends_on,omitempty"`

	// AnalysisData carries analyzer-provided evidence and, across
	// retries, the retry_reason from the previous attempt.
	AnalysisData map[string]interface{} `json:"analysis_data,omitempty"`

	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`

	// Effort is tracked in minutes.
	EstimatedEffort int `json:"estimated_effort,omitempty"`
	ActualEffort    int `json:"actual_effort,omitempty"`

	Resolution string `json:"resolution,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask builds a task in the new state with defaults applied.
func NewTask(id string, issueType IssueType, priority Priority, title string, targetFiles []string) *RefactoringTask {
	return &RefactoringTask{
		ID:          id,
		Type:        issueType,
		Priority:    priority,
		Approach:    ApproachAutonomous,
		Title:       title,
		TargetFiles: targetFiles,
		Status:      StatusNew,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks that the task is well-formed.
func (t *RefactoringTask) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid issue type: %s", t.Type)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	if !t.Approach.IsValid() {
		return fmt.Errorf("invalid approach: %s", t.Approach)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if len(t.TargetFiles) == 0 {
		return fmt.Errorf("task must have at least one target file")
	}
	if t.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// CanExecute reports whether the task is eligible to run: it must be
// new or failed, have attempts remaining, and every dependency must
// appear in the completed set.
func (t *RefactoringTask) CanExecute(completed map[string]bool) bool {
	if t.Status != StatusNew && t.Status != StatusFailed {
		return false
	}
	if t.Attempts >= t.MaxAttempts {
		return false
	}
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Start moves the task into in_progress and consumes an attempt.
func (t *RefactoringTask) Start() error {
	if !t.Status.CanTransitionTo(StatusInProgress) {
		return fmt.Errorf("cannot start task %s from status %s", t.ID, t.Status)
	}
	now := time.Now().UTC()
	t.Status = StatusInProgress
	t.Attempts++
	t.StartedAt = &now
	return nil
}

// Complete marks the task resolved with the given resolution summary.
func (t *RefactoringTask) Complete(resolution string) error {
	if !t.Status.CanTransitionTo(StatusCompleted) {
		return fmt.Errorf("cannot complete task %s from status %s", t.ID, t.Status)
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.Resolution = resolution
	t.CompletedAt = &now
	if t.StartedAt != nil {
		t.ActualEffort = int(now.Sub(*t.StartedAt).Minutes())
	}
	return nil
}

// Fail marks the attempt failed and records the reason. The task stays
// retryable while attempts remain.
func (t *RefactoringTask) Fail(reason string) error {
	if !t.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("cannot fail task %s from status %s", t.ID, t.Status)
	}
	t.Status = StatusFailed
	t.Description += fmt.Sprintf("\n\nAttempt %d failed: %s", t.Attempts, reason)
	return nil
}

// NeedsReview parks the task for a human: status becomes blocked and
// the approach flips to developer_review. Blocked tasks wait for
// external action and can later be re-armed back to new.
func (t *RefactoringTask) NeedsReview(reason string) error {
	if !t.Status.CanTransitionTo(StatusBlocked) {
		return fmt.Errorf("cannot block task %s from status %s", t.ID, t.Status)
	}
	t.Status = StatusBlocked
	t.Approach = ApproachDeveloperReview
	t.ReviewHint = reason
	return nil
}

// ForceRetry is the sanctioned direct reset to new used when a
// resolution attempt is blocked by policy or classified as not yet
// resolved. Attempts are not touched; Start consumed one already.
func (t *RefactoringTask) ForceRetry(reason string) {
	t.Status = StatusNew
	if t.AnalysisData == nil {
		t.AnalysisData = make(map[string]interface{})
	}
	t.AnalysisData["retry_reason"] = reason
}

// RetryReason returns the reason stashed by the last ForceRetry, or
// empty.
func (t *RefactoringTask) RetryReason() string {
	if t.AnalysisData == nil {
		return ""
	}
	reason, _ := t.AnalysisData["retry_reason"].(string)
	return reason
}

// Rearm returns a failed or blocked task to the new state so it can be
// selected again.
func (t *RefactoringTask) Rearm() error {
	if !t.Status.CanTransitionTo(StatusNew) {
		return fmt.Errorf("cannot rearm task %s from status %s", t.ID, t.Status)
	}
	t.Status = StatusNew
	return nil
}

// TaskFromJSON reconstructs a task from its persisted form.
func TaskFromJSON(data []byte) (*RefactoringTask, error) {
	var t RefactoringTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// PhaseResult is what every phase hands back to the pipeline driver.
// All fields are always populated; NextPhase empty means stay in the
// current phase.
type PhaseResult struct {
	Success   bool   `json:"success"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	NextPhase string `json:"next_phase,omitempty"`
}
