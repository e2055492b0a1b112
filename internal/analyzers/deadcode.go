package analyzers

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

var (
	funcDeclRe = regexp.MustCompile(`(?m)^func\s+([A-Z]\w*)\s*\(`)
	typeDeclRe = regexp.MustCompile(`(?m)^type\s+([A-Z]\w*)\s`)
)

// DeadCodeDetector flags exported top-level declarations that no other
// file in the tree references. It reads source as text, not as a
// parsed package graph, so entry points and reflection targets show up
// as candidates the agent has to confirm.
type DeadCodeDetector struct{}

func NewDeadCodeDetector() *DeadCodeDetector { return &DeadCodeDetector{} }

func (d *DeadCodeDetector) Name() string               { return "dead-code-detector" }
func (d *DeadCodeDetector) IssueType() types.IssueType { return types.IssueDeadCode }

func (d *DeadCodeDetector) Analyze(ctx context.Context, target Target) (*Report, error) {
	// Declarations come from the scoped files; references are checked
	// against the whole tree so a scoped run does not miss callers.
	scoped, err := sourceFiles(ctx, target)
	if err != nil {
		return nil, err
	}
	all, err := sourceFiles(ctx, Target{Root: target.Root})
	if err != nil {
		return nil, err
	}

	contents := make(map[string]string, len(all))
	for _, f := range all {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		contents[f] = string(data)
	}

	report := &Report{Analyzer: d.Name()}
	for _, file := range scoped {
		src, ok := contents[file]
		if !ok {
			continue
		}
		var unused []string
		for _, name := range declaredNames(src) {
			if !referencedElsewhere(name, file, contents) {
				unused = append(unused, name)
			}
		}
		if len(unused) > 0 {
			report.Findings = append(report.Findings, Finding{
				Files:       []string{relPath(target.Root, file)},
				Description: "exported declarations with no external references: " + strings.Join(unused, ", "),
				Evidence:    map[string]string{"identifiers": strings.Join(unused, ",")},
			})
		}
	}
	return report, nil
}

func declaredNames(src string) []string {
	var names []string
	for _, m := range funcDeclRe.FindAllStringSubmatch(src, -1) {
		names = append(names, m[1])
	}
	for _, m := range typeDeclRe.FindAllStringSubmatch(src, -1) {
		names = append(names, m[1])
	}
	return names
}

func referencedElsewhere(name, declFile string, contents map[string]string) bool {
	for file, src := range contents {
		if file == declFile {
			continue
		}
		if strings.Contains(src, name) {
			return true
		}
	}
	return false
}
