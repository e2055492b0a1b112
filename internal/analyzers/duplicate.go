package analyzers

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// blockSize is the sliding-window size in normalized lines. Smaller
// windows flood the queue with trivial matches; larger ones miss
// copy-pasted helpers.
const blockSize = 8

// DuplicateDetector finds structurally identical code blocks across
// files by hashing normalized line windows.
type DuplicateDetector struct {
	minOccurrences int
}

// NewDuplicateDetector returns a detector that reports blocks seen in
// at least two distinct files.
func NewDuplicateDetector() *DuplicateDetector {
	return &DuplicateDetector{minOccurrences: 2}
}

func (d *DuplicateDetector) Name() string               { return "duplicate-detector" }
func (d *DuplicateDetector) IssueType() types.IssueType { return types.IssueDuplicate }

type blockLocation struct {
	file string
	line int
}

// Analyze hashes normalized windows of each file and reports hashes
// that appear in more than one file.
func (d *DuplicateDetector) Analyze(ctx context.Context, target Target) (*Report, error) {
	files, err := sourceFiles(ctx, target)
	if err != nil {
		return nil, err
	}

	blocks := make(map[string][]blockLocation)
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		lines, err := normalizedLines(file)
		if err != nil {
			continue // unreadable file, skip
		}
		for i := 0; i+blockSize <= len(lines); i++ {
			h := hashBlock(lines[i : i+blockSize])
			blocks[h] = append(blocks[h], blockLocation{file: file, line: i + 1})
		}
	}

	report := &Report{Analyzer: d.Name()}
	seen := make(map[string]bool)
	for _, locs := range blocks {
		distinct := distinctFiles(locs)
		if len(distinct) < d.minOccurrences {
			continue
		}
		var rels []string
		for _, f := range distinct {
			rels = append(rels, relPath(target.Root, f))
		}
		key := strings.Join(rels, "|")
		if seen[key] {
			continue
		}
		seen[key] = true
		report.Findings = append(report.Findings, Finding{
			Files:       rels,
			Description: fmt.Sprintf("identical %d-line block appears in %d files", blockSize, len(distinct)),
			Evidence:    map[string]string{"first_occurrence": fmt.Sprintf("%s:%d", relPath(target.Root, locs[0].file), locs[0].line)},
		})
	}
	return report, nil
}

func distinctFiles(locs []blockLocation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range locs {
		if !seen[l.file] {
			seen[l.file] = true
			out = append(out, l.file)
		}
	}
	return out
}

// normalizedLines strips whitespace, comments, and blank lines so
// formatting differences do not hide duplication.
func normalizedLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if idx := strings.Index(line, "//"); idx > 0 {
			line = strings.TrimSpace(line[:idx])
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func hashBlock(lines []string) string {
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:8])
}
