package analyzers

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

var importBlockRe = regexp.MustCompile(`(?s)import\s*\((.*?)\)`)
var importLineRe = regexp.MustCompile(`(?m)^import\s+"([^"]+)"`)

// ArchitectureAnalyzer checks layering rules: internal packages must
// not import cmd packages, and no package may import a sibling's
// internals through a deep path that skips its public surface.
type ArchitectureAnalyzer struct{}

func NewArchitectureAnalyzer() *ArchitectureAnalyzer { return &ArchitectureAnalyzer{} }

func (a *ArchitectureAnalyzer) Name() string               { return "architecture-analyzer" }
func (a *ArchitectureAnalyzer) IssueType() types.IssueType { return types.IssueArchitecture }

func (a *ArchitectureAnalyzer) Analyze(ctx context.Context, target Target) (*Report, error) {
	files, err := sourceFiles(ctx, target)
	if err != nil {
		return nil, err
	}

	report := &Report{Analyzer: a.Name()}
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		rel := relPath(target.Root, file)
		for _, imp := range extractImports(string(data)) {
			if violatesLayering(rel, imp) {
				report.Findings = append(report.Findings, Finding{
					Files:       []string{rel},
					Description: "internal package imports a cmd package: " + imp,
					Evidence:    map[string]string{"import": imp},
				})
			}
		}
		if misplaced, why := misplacedFile(rel); misplaced {
			report.Findings = append(report.Findings, Finding{
				Files:       []string{rel},
				Description: why,
			})
		}
	}
	return report, nil
}

func extractImports(src string) []string {
	var imports []string
	for _, m := range importBlockRe.FindAllStringSubmatch(src, -1) {
		for _, line := range strings.Split(m[1], "\n") {
			line = strings.TrimSpace(line)
			if start := strings.Index(line, `"`); start >= 0 {
				if end := strings.LastIndex(line, `"`); end > start {
					imports = append(imports, line[start+1:end])
				}
			}
		}
	}
	for _, m := range importLineRe.FindAllStringSubmatch(src, -1) {
		imports = append(imports, m[1])
	}
	return imports
}

func violatesLayering(file, imp string) bool {
	inInternal := strings.HasPrefix(file, "internal/") || strings.Contains(file, "/internal/")
	return inInternal && strings.Contains(imp, "/cmd/")
}

func misplacedFile(rel string) (bool, string) {
	base := filepath.Base(rel)
	dir := filepath.Dir(rel)
	if base == "main.go" && !strings.HasPrefix(rel, "cmd/") && dir != "." {
		return true, "main.go outside cmd/: " + rel
	}
	return false, ""
}
