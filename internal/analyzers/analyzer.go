// Package analyzers provides the codebase detectors that feed the
// refactoring queue and back the verification layer. Detectors are
// deterministic and cheap; they find candidates, the agent and the
// verifier decide what to do about them.
package analyzers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// Target scopes an analysis run. Files empty means the whole tree
// under Root.
type Target struct {
	Root  string
	Files []string
}

// Finding is one detected problem.
type Finding struct {
	Files       []string          `json:"files"`
	Description string            `json:"description"`
	Evidence    map[string]string `json:"evidence,omitempty"`
}

// Report is the outcome of one analyzer run.
type Report struct {
	Analyzer string    `json:"analyzer"`
	Findings []Finding `json:"findings"`
}

// Clean reports whether the run found nothing.
func (r *Report) Clean() bool {
	return len(r.Findings) == 0
}

// Analyzer is a single detector. Implementations must be safe to run
// repeatedly on the same tree.
type Analyzer interface {
	Name() string
	IssueType() types.IssueType
	Analyze(ctx context.Context, target Target) (*Report, error)
}

// Registry maps issue types to the analyzer that detects them, so the
// verifier can re-run the originating detector for a task.
type Registry struct {
	byType map[types.IssueType]Analyzer
	order  []Analyzer
}

// NewRegistry returns a registry with the standard detector set.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[types.IssueType]Analyzer)}
	r.Register(NewDuplicateDetector())
	r.Register(NewDeadCodeDetector())
	r.Register(NewArchitectureAnalyzer())
	r.Register(NewIntegrationDetector())
	r.Register(NewComplexityAnalyzer())
	return r
}

// Register adds an analyzer. Later registrations for the same issue
// type replace earlier ones.
func (r *Registry) Register(a Analyzer) {
	if _, exists := r.byType[a.IssueType()]; !exists {
		r.order = append(r.order, a)
	}
	r.byType[a.IssueType()] = a
}

// ForType returns the analyzer responsible for an issue type, or nil
// when no detector covers it.
func (r *Registry) ForType(t types.IssueType) Analyzer {
	return r.byType[t]
}

// All returns the analyzers in registration order.
func (r *Registry) All() []Analyzer {
	return r.order
}

// sourceFiles collects the Go files in scope for a target, honoring
// context cancellation during the walk.
func sourceFiles(ctx context.Context, target Target) ([]string, error) {
	if len(target.Files) > 0 {
		var out []string
		for _, f := range target.Files {
			path := f
			if !filepath.IsAbs(path) {
				path = filepath.Join(target.Root, f)
			}
			if _, err := os.Stat(path); err == nil {
				out = append(out, path)
			}
		}
		return out, nil
	}

	var files []string
	err := filepath.Walk(target.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if info.IsDir() {
			name := info.Name()
			if name == ".git" || name == "vendor" || name == "node_modules" || strings.HasPrefix(name, ".autonomy") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", target.Root, err)
	}
	return files, nil
}

// relPath shortens a path for reporting.
func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
