package analyzers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// Thresholds above which a function is worth a refactoring look.
const (
	maxFunctionLines = 120
	maxNestingDepth  = 6
)

// ComplexityAnalyzer flags oversized or deeply nested functions by
// counting lines and brace depth between a func declaration and its
// closing brace.
type ComplexityAnalyzer struct{}

func NewComplexityAnalyzer() *ComplexityAnalyzer { return &ComplexityAnalyzer{} }

func (a *ComplexityAnalyzer) Name() string               { return "complexity-analyzer" }
func (a *ComplexityAnalyzer) IssueType() types.IssueType { return types.IssueComplexity }

func (a *ComplexityAnalyzer) Analyze(ctx context.Context, target Target) (*Report, error) {
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
		findings, err := scanFunctions(file)
		if err != nil {
			continue
		}
		for _, f := range findings {
			f.Files = []string{relPath(target.Root, file)}
			report.Findings = append(report.Findings, f)
		}
	}
	return report, nil
}

func scanFunctions(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []Finding
	var funcName string
	var funcStart, funcLines, depth, maxDepth int
	lineNo := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if funcName == "" {
			if strings.HasPrefix(line, "func ") && strings.Contains(line, "{") {
				funcName = funcSignatureName(line)
				funcStart = lineNo
				funcLines = 0
				depth = 1
				maxDepth = 1
			}
			continue
		}

		funcLines++
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth > maxDepth {
			maxDepth = depth
		}
		if depth <= 0 {
			if funcLines > maxFunctionLines || maxDepth > maxNestingDepth {
				findings = append(findings, Finding{
					Description: fmt.Sprintf("function %s is %d lines with nesting depth %d (line %d)",
						funcName, funcLines, maxDepth, funcStart),
					Evidence: map[string]string{
						"function": funcName,
						"lines":    fmt.Sprintf("%d", funcLines),
						"depth":    fmt.Sprintf("%d", maxDepth),
					},
				})
			}
			funcName = ""
		}
	}
	return findings, scanner.Err()
}

func funcSignatureName(line string) string {
	rest := strings.TrimPrefix(line, "func ")
	// Skip a method receiver if present.
	if strings.HasPrefix(rest, "(") {
		if idx := strings.Index(rest, ")"); idx >= 0 {
			rest = strings.TrimSpace(rest[idx+1:])
		}
	}
	if idx := strings.IndexAny(rest, "([ "); idx > 0 {
		return rest[:idx]
	}
	return rest
}
