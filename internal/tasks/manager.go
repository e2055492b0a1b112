// Package tasks manages the refactoring task queue: creation with
// deduplication against resolution history, dependency tracking, and
// progress accounting. The pipeline is single-threaded, so Manager is
// not safe for concurrent use.
package tasks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// falsePositiveThreshold is how many times the same issue key can be
// detected without ever resolving before we stop creating tasks for it.
const falsePositiveThreshold = 3

// CreateRequest describes a task to be added to the queue.
type CreateRequest struct {
	Type        types.IssueType
	Priority    types.Priority
	Approach    types.FixApproach
	Title       string
	Description string
	Subtype     string
	TargetFiles []string
	DependsOn   []string
	Effort      int
}

// Manager owns the task queue and the resolution history. History is
// keyed by issue key (type plus sorted target files) so the same
// finding never produces a second task after it was resolved or
// escalated.
type Manager struct {
	tasks  []*types.RefactoringTask
	nextID int

	resolved       map[string]string // issue key -> task ID
	escalated      map[string]string
	falsePositives map[string]bool
	detections     map[string]int

	// StateDir holds pipeline bookkeeping; paths under it are never
	// valid refactoring targets.
	StateDir string
}

// NewManager returns an empty manager.
func NewManager(stateDir string) *Manager {
	return &Manager{
		nextID:         1,
		resolved:       make(map[string]string),
		escalated:      make(map[string]string),
		falsePositives: make(map[string]bool),
		detections:     make(map[string]int),
		StateDir:       stateDir,
	}
}

// IssueKey builds the dedup key for an issue: type plus the sorted
// target files. Two findings about the same files are the same issue
// regardless of file order.
func IssueKey(issueType types.IssueType, files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)
	return string(issueType) + ":" + strings.Join(sorted, ":")
}

// validTargets filters out paths that can never be refactoring
// targets: empty strings, analyzer placeholders, and anything under
// the state or backup directories.
func (m *Manager) validTargets(files []string) []string {
	var out []string
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" || f == "some_file" || f == "unknown" {
			continue
		}
		if m.StateDir != "" && strings.Contains(f, m.StateDir) {
			continue
		}
		if strings.Contains(f, "/backups/") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Create validates, dedups, and enqueues a new task. It returns
// (nil, nil) when the request is dropped as a duplicate or false
// positive; that is the normal outcome for re-detected issues.
func (m *Manager) Create(req CreateRequest) (*types.RefactoringTask, error) {
	files := m.validTargets(req.TargetFiles)
	if len(files) == 0 {
		return nil, fmt.Errorf("no valid target files in request %q", req.Title)
	}

	key := IssueKey(req.Type, files)
	m.detections[key]++

	if m.falsePositives[key] {
		return nil, nil
	}
	if _, ok := m.resolved[key]; ok {
		return nil, nil
	}
	if _, ok := m.escalated[key]; ok {
		return nil, nil
	}
	for _, t := range m.tasks {
		if t.Status != types.StatusCompleted && IssueKey(t.Type, t.TargetFiles) == key {
			return nil, nil
		}
	}
	if m.detections[key] >= falsePositiveThreshold {
		// Detected repeatedly without ever resolving. Stop burning
		// attempts on it.
		m.falsePositives[key] = true
		return nil, nil
	}

	for _, dep := range req.DependsOn {
		if m.Get(dep) == nil {
			return nil, fmt.Errorf("unknown dependency %s", dep)
		}
	}

	id := fmt.Sprintf("refactor_%04d", m.nextID)
	if err := m.checkCycle(id, req.DependsOn); err != nil {
		return nil, err
	}
	m.nextID++

	task := types.NewTask(id, req.Type, req.Priority, req.Title, files)
	task.Description = req.Description
	task.Subtype = req.Subtype
	task.DependsOn = req.DependsOn
	task.EstimatedEffort = req.Effort
	if req.Approach != "" {
		task.Approach = req.Approach
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	m.tasks = append(m.tasks, task)
	return task, nil
}

// checkCycle walks the dependency graph from the proposed edges and
// rejects the request if it would reach back to the new task. The
// graph is small, so a simple visited-set walk is enough.
func (m *Manager) checkCycle(newID string, deps []string) error {
	visited := make(map[string]bool)
	var walk func(id string) bool
	walk = func(id string) bool {
		if id == newID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		t := m.Get(id)
		if t == nil {
			return false
		}
		for _, dep := range t.DependsOn {
			if walk(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range deps {
		if walk(dep) {
			return fmt.Errorf("dependency cycle: %s -> %s", newID, dep)
		}
	}
	return nil
}

// Get returns the task with the given ID, or nil.
func (m *Manager) Get(id string) *types.RefactoringTask {
	for _, t := range m.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Completed returns the set of completed task IDs, used for dependency
// gating.
func (m *Manager) Completed() map[string]bool {
	out := make(map[string]bool)
	for _, t := range m.tasks {
		if t.Status == types.StatusCompleted {
			out[t.ID] = true
		}
	}
	return out
}

// Pending returns the executable tasks ordered by (priority, age).
func (m *Manager) Pending() []*types.RefactoringTask {
	completed := m.Completed()
	var out []*types.RefactoringTask
	for _, t := range m.tasks {
		if t.CanExecute(completed) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Order() != out[j].Priority.Order() {
			return out[i].Priority.Order() < out[j].Priority.Order()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Next returns the highest-priority executable task, or nil.
func (m *Manager) Next() *types.RefactoringTask {
	pending := m.Pending()
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

// ByStatus returns all tasks in the given status.
func (m *Manager) ByStatus(status types.TaskStatus) []*types.RefactoringTask {
	var out []*types.RefactoringTask
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// All returns the full task list in creation order.
func (m *Manager) All() []*types.RefactoringTask {
	return m.tasks
}

// RecordResolved moves the task's issue key into the resolved bucket
// so the same finding is never recreated.
func (m *Manager) RecordResolved(t *types.RefactoringTask) {
	m.resolved[IssueKey(t.Type, t.TargetFiles)] = t.ID
}

// RecordEscalated moves the task's issue key into the escalated
// bucket. Escalated issues belong to a human now; re-detection must
// not recreate them.
func (m *Manager) RecordEscalated(t *types.RefactoringTask) {
	m.escalated[IssueKey(t.Type, t.TargetFiles)] = t.ID
}

// IsResolved reports whether the issue key was ever resolved.
func (m *Manager) IsResolved(issueType types.IssueType, files []string) bool {
	_, ok := m.resolved[IssueKey(issueType, files)]
	return ok
}

// Delete removes a task from the queue. Tasks that other tasks depend
// on cannot be deleted.
func (m *Manager) Delete(id string) error {
	for _, t := range m.tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				return fmt.Errorf("task %s is a dependency of %s", id, t.ID)
			}
		}
	}
	for i, t := range m.tasks {
		if t.ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("task %s not found", id)
}

// ClearCompleted drops completed tasks from the queue. Their issue
// keys stay in the resolved history. A completed task that a pending
// task still depends on is kept, since dropping it would make the
// dependent permanently ineligible.
func (m *Manager) ClearCompleted() int {
	needed := make(map[string]bool)
	for _, t := range m.tasks {
		if t.Status == types.StatusCompleted {
			continue
		}
		for _, dep := range t.DependsOn {
			needed[dep] = true
		}
	}
	var kept []*types.RefactoringTask
	removed := 0
	for _, t := range m.tasks {
		if t.Status == types.StatusCompleted && !needed[t.ID] {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.tasks = kept
	return removed
}

// Progress summarizes queue and history state.
type Progress struct {
	Total          int                      `json:"total"`
	ByStatus       map[types.TaskStatus]int `json:"by_status"`
	Resolved       int                      `json:"resolved"`
	Escalated      int                      `json:"escalated"`
	FalsePositives int                      `json:"false_positives"`
}

// Progress returns current queue and history counts.
func (m *Manager) Progress() Progress {
	p := Progress{
		Total:          len(m.tasks),
		ByStatus:       make(map[types.TaskStatus]int),
		Resolved:       len(m.resolved),
		Escalated:      len(m.escalated),
		FalsePositives: len(m.falsePositives),
	}
	for _, t := range m.tasks {
		p.ByStatus[t.Status]++
	}
	return p
}

// snapshot is the persisted form of the manager.
type snapshot struct {
	Tasks          []*types.RefactoringTask `json:"tasks"`
	NextID         int                      `json:"next_id"`
	Resolved       map[string]string        `json:"resolved"`
	Escalated      map[string]string        `json:"escalated"`
	FalsePositives map[string]bool          `json:"false_positives"`
	Detections     map[string]int           `json:"detections"`
	SavedAt        time.Time                `json:"saved_at"`
}

// MarshalJSON persists the full manager state.
func (m *Manager) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		Tasks:          m.tasks,
		NextID:         m.nextID,
		Resolved:       m.resolved,
		Escalated:      m.escalated,
		FalsePositives: m.falsePositives,
		Detections:     m.detections,
		SavedAt:        time.Now().UTC(),
	})
}

// UnmarshalJSON restores manager state from a snapshot.
func (m *Manager) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse task manager state: %w", err)
	}
	m.tasks = s.Tasks
	m.nextID = s.NextID
	if m.nextID < 1 {
		m.nextID = 1
	}
	m.resolved = s.Resolved
	m.escalated = s.Escalated
	m.falsePositives = s.FalsePositives
	m.detections = s.Detections
	if m.resolved == nil {
		m.resolved = make(map[string]string)
	}
	if m.escalated == nil {
		m.escalated = make(map[string]string)
	}
	if m.falsePositives == nil {
		m.falsePositives = make(map[string]bool)
	}
	if m.detections == nil {
		m.detections = make(map[string]int)
	}
	for _, t := range m.tasks {
		if t.MaxAttempts == 0 {
			t.MaxAttempts = types.DefaultMaxAttempts
		}
	}
	return nil
}
