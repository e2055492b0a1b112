// Package state persists the pipeline's working state between cycles
// and across restarts: the task queue, the analysis checklists, and
// the staleness bookkeeping for re-analysis.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/justmebob123/autonomy-sub000/internal/analysis"
	"github.com/justmebob123/autonomy-sub000/internal/tasks"
)

// DefaultStateDir is where pipeline bookkeeping lives, relative to the
// project root.
const DefaultStateDir = ".autonomy"

const stateFile = "state.json"

// Pipeline is the persisted pipeline state.
type Pipeline struct {
	CurrentPhase string     `json:"current_phase"`
	Cycle        int        `json:"cycle"`
	LastAnalysis *time.Time `json:"last_analysis,omitempty"`
	// LastAnalysisChangedFiles is the changed-file count at the time
	// of the last analysis, for the staleness check.
	LastAnalysisChangedFiles int `json:"last_analysis_changed_files"`

	Tasks    *tasks.Manager                 `json:"tasks"`
	Analysis map[string]*analysis.TaskState `json:"analysis"`

	UpdatedAt time.Time `json:"updated_at"`

	dir string
}

// New returns an empty pipeline state rooted at the given state
// directory.
func New(stateDir string) *Pipeline {
	return &Pipeline{
		CurrentPhase: "refactoring",
		Tasks:        tasks.NewManager(stateDir),
		Analysis:     make(map[string]*analysis.TaskState),
		dir:          stateDir,
	}
}

// Load reads the state file, returning a fresh state when none exists
// yet. A corrupt state file is an error, not silently discarded.
func Load(stateDir string) (*Pipeline, error) {
	path := filepath.Join(stateDir, stateFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(stateDir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	p := New(stateDir)
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	if p.Tasks == nil {
		p.Tasks = tasks.NewManager(stateDir)
	}
	if p.Analysis == nil {
		p.Analysis = make(map[string]*analysis.TaskState)
	}
	p.dir = stateDir
	return p, nil
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, then rename over the old one. A crash mid-save leaves the
// previous state intact.
func (p *Pipeline) Save() error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	path := filepath.Join(p.dir, stateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Dir returns the state directory.
func (p *Pipeline) Dir() string {
	return p.dir
}

// MarkAnalyzed records that a full analysis just ran.
func (p *Pipeline) MarkAnalyzed(changedFiles int) {
	now := time.Now().UTC()
	p.LastAnalysis = &now
	p.LastAnalysisChangedFiles = changedFiles
}

// AnalysisStore adapts the persisted checklist map to the tracker's
// Store interface, so checklist progress survives restarts with the
// rest of the state.
type AnalysisStore struct {
	p *Pipeline
}

// NewAnalysisStore wraps the pipeline's analysis map.
func (p *Pipeline) NewAnalysisStore() *AnalysisStore {
	return &AnalysisStore{p: p}
}

func (s *AnalysisStore) Get(taskID string) (*analysis.TaskState, bool) {
	st, ok := s.p.Analysis[taskID]
	return st, ok
}

func (s *AnalysisStore) Put(state *analysis.TaskState) {
	s.p.Analysis[state.TaskID] = state
}

func (s *AnalysisStore) Delete(taskID string) {
	delete(s.p.Analysis, taskID)
}

func (s *AnalysisStore) IDs() []string {
	ids := make([]string, 0, len(s.p.Analysis))
	for id := range s.p.Analysis {
		ids = append(ids, id)
	}
	return ids
}
