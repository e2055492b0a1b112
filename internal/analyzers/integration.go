package analyzers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// IntegrationDetector finds competing implementations of the same
// concern: files with the same base name in different packages whose
// exported surfaces overlap. Two "config.go" files both exporting
// Load usually means one of them never got wired in.
type IntegrationDetector struct{}

func NewIntegrationDetector() *IntegrationDetector { return &IntegrationDetector{} }

func (d *IntegrationDetector) Name() string               { return "integration-detector" }
func (d *IntegrationDetector) IssueType() types.IssueType { return types.IssueIntegration }

func (d *IntegrationDetector) Analyze(ctx context.Context, target Target) (*Report, error) {
	files, err := sourceFiles(ctx, target)
	if err != nil {
		return nil, err
	}

	byBase := make(map[string][]string)
	for _, f := range files {
		base := filepath.Base(f)
		if base == "main.go" || base == "doc.go" {
			continue
		}
		byBase[base] = append(byBase[base], f)
	}

	report := &Report{Analyzer: d.Name()}
	var bases []string
	for base, group := range byBase {
		if len(group) >= 2 {
			bases = append(bases, base)
		}
	}
	sort.Strings(bases)

	for _, base := range bases {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		group := byBase[base]
		overlap := exportedOverlap(group)
		if len(overlap) == 0 {
			continue
		}
		var rels []string
		for _, f := range group {
			rels = append(rels, relPath(target.Root, f))
		}
		sort.Strings(rels)
		report.Findings = append(report.Findings, Finding{
			Files: rels,
			Description: fmt.Sprintf("%d files named %s export overlapping identifiers: %s",
				len(group), base, strings.Join(overlap, ", ")),
			Evidence: map[string]string{"overlap": strings.Join(overlap, ",")},
		})
	}
	return report, nil
}

func exportedOverlap(files []string) []string {
	counts := make(map[string]int)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		seen := make(map[string]bool)
		for _, name := range declaredNames(string(data)) {
			if !seen[name] {
				seen[name] = true
				counts[name]++
			}
		}
	}
	var overlap []string
	for name, n := range counts {
		if n >= 2 {
			overlap = append(overlap, name)
		}
	}
	sort.Strings(overlap)
	return overlap
}
