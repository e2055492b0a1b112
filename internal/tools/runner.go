package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/justmebob123/autonomy-sub000/internal/analyzers"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// maxReadBytes caps how much of a file a single read_file call
// returns.
const maxReadBytes = 256 * 1024

// Call is one tool invocation from the model.
type Call struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Result is the outcome of executing one call.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Err     string `json:"error,omitempty"`
}

// Runner executes tool calls against the project workspace. Resolving
// tools never destroy content: removed files are moved into the backup
// area under the state directory.
type Runner struct {
	Root      string
	StateDir  string
	Analyzers *analyzers.Registry
}

// NewRunner builds a runner rooted at the project directory.
func NewRunner(root, stateDir string, reg *analyzers.Registry) *Runner {
	return &Runner{Root: root, StateDir: stateDir, Analyzers: reg}
}

// Execute runs a single call and always returns a Result; tool
// failures are data, not Go errors, so the loop can report them back
// to the model.
func (r *Runner) Execute(ctx context.Context, call Call) Result {
	out, err := r.dispatch(ctx, call)
	res := Result{ID: call.ID, Name: call.Name, Success: err == nil, Output: out}
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

// ExecuteAll runs calls in order and reports whether any succeeded.
func (r *Runner) ExecuteAll(ctx context.Context, calls []Call) ([]Result, bool) {
	var results []Result
	anySuccess := false
	for _, c := range calls {
		res := r.Execute(ctx, c)
		if res.Success {
			anySuccess = true
		}
		results = append(results, res)
	}
	return results, anySuccess
}

func (r *Runner) dispatch(ctx context.Context, call Call) (string, error) {
	if _, ok := Lookup(call.Name); !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	switch call.Name {
	case ToolReadFile:
		return r.readFile(call.Args)
	case ToolListSourceFiles:
		return r.listSourceFiles(ctx)
	case ToolCrossReferenceFile:
		return r.crossReference(ctx, call.Args)
	case ToolMapFileRelationships, ToolFindRelatedFiles:
		return r.relatedFiles(ctx, call.Args)
	case ToolCompareImplementations:
		return r.compareImplementations(call.Args)
	case ToolAnalyzeComplexity:
		return r.runAnalyzer(ctx, "complexity", call.Args)
	case ToolDetectDeadCode:
		return r.runAnalyzer(ctx, "dead_code", call.Args)
	case ToolDetectDuplicates:
		return r.runAnalyzer(ctx, "duplicate", call.Args)
	case ToolAnalyzeArchitecture:
		return r.runAnalyzer(ctx, "architecture", call.Args)
	case ToolFindIntegrationConflicts:
		return r.runAnalyzer(ctx, "integration", call.Args)
	case ToolAnalyzeImportImpact:
		return r.crossReference(ctx, call.Args)
	case ToolReadMasterPlan:
		return r.readNamed("MASTER_PLAN.md")
	case ToolMergeImplementations:
		return r.mergeImplementations(call.Args)
	case ToolCleanupRedundantFiles:
		return r.cleanupFiles(call.Args)
	case ToolCreateIssueReport:
		return r.writeReport("reports", call.Args)
	case ToolRequestDevReview:
		return r.writeReport("reviews", call.Args)
	case ToolMoveFile:
		return r.moveFile(call.Args)
	case ToolRenameFile:
		return r.renameFile(call.Args)
	case ToolRestructureDirectory:
		return r.restructure(call.Args)
	}
	return "", fmt.Errorf("tool %q has no handler", call.Name)
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func argStrings(args map[string]interface{}, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", key)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
	var out []string
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

// resolve joins a model-supplied path onto the project root and
// rejects anything that escapes it.
func (r *Runner) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("path %q is outside the project", rel)
	}
	return filepath.Join(r.Root, clean), nil
}

func (r *Runner) readFile(args map[string]interface{}) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	path, err := r.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		return string(data) + "\n\n[truncated]", nil
	}
	return string(data), nil
}

func (r *Runner) readNamed(name string) (string, error) {
	path := filepath.Join(r.Root, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s not found in project root", name)
	}
	return string(data), nil
}

func (r *Runner) listSourceFiles(ctx context.Context) (string, error) {
	var files []string
	err := filepath.Walk(r.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if info.IsDir() {
			name := info.Name()
			if name == ".git" || name == "vendor" || strings.HasPrefix(name, ".autonomy") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			rel, _ := filepath.Rel(r.Root, path)
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)
	return strings.Join(files, "\n"), nil
}

var identRe = regexp.MustCompile(`(?m)^(?:func|type)\s+\(?[^)]*\)?\s*([A-Z]\w+)`)

func (r *Runner) crossReference(ctx context.Context, args map[string]interface{}) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	path, err := r.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}

	names := make(map[string]bool)
	for _, m := range identRe.FindAllStringSubmatch(string(data), -1) {
		names[m[1]] = true
	}
	if len(names) == 0 {
		return fmt.Sprintf("%s declares no exported identifiers", rel), nil
	}

	listing, err := r.listSourceFiles(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, other := range strings.Split(listing, "\n") {
		if other == rel || other == "" {
			continue
		}
		otherPath := filepath.Join(r.Root, other)
		src, err := os.ReadFile(otherPath)
		if err != nil {
			continue
		}
		var hits []string
		for name := range names {
			if strings.Contains(string(src), name) {
				hits = append(hits, name)
			}
		}
		if len(hits) > 0 {
			sort.Strings(hits)
			fmt.Fprintf(&b, "%s references: %s\n", other, strings.Join(hits, ", "))
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("no other file references identifiers from %s", rel), nil
	}
	return b.String(), nil
}

func (r *Runner) relatedFiles(ctx context.Context, args map[string]interface{}) (string, error) {
	// Accept either a single file or a list.
	var targets []string
	if rel, err := argString(args, "file_path"); err == nil {
		targets = []string{rel}
	} else if rels, err := argStrings(args, "file_paths"); err == nil {
		targets = rels
	} else {
		return "", fmt.Errorf("missing file_path or file_paths argument")
	}

	listing, err := r.listSourceFiles(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, t := range targets {
		base := strings.TrimSuffix(filepath.Base(t), filepath.Ext(t))
		var related []string
		for _, other := range strings.Split(listing, "\n") {
			if other == t || other == "" {
				continue
			}
			otherBase := strings.TrimSuffix(filepath.Base(other), filepath.Ext(other))
			if strings.Contains(otherBase, base) || filepath.Dir(other) == filepath.Dir(t) {
				related = append(related, other)
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", t, strings.Join(related, ", "))
	}
	return b.String(), nil
}

func (r *Runner) compareImplementations(args map[string]interface{}) (string, error) {
	rels, err := argStrings(args, "file_paths")
	if err != nil {
		return "", err
	}
	if len(rels) < 2 {
		return "", fmt.Errorf("compare needs at least two files")
	}
	var b strings.Builder
	for _, rel := range rels {
		path, err := r.resolve(rel)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", rel, err)
		}
		lines := strings.Count(string(data), "\n")
		names := make([]string, 0)
		for _, m := range identRe.FindAllStringSubmatch(string(data), -1) {
			names = append(names, m[1])
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "=== %s (%d lines) exports: %s\n", rel, lines, strings.Join(names, ", "))
	}
	return b.String(), nil
}

func (r *Runner) runAnalyzer(ctx context.Context, issueType string, args map[string]interface{}) (string, error) {
	if r.Analyzers == nil {
		return "", fmt.Errorf("analyzers unavailable")
	}
	a := r.Analyzers.ForType(types.IssueType(issueType))
	if a == nil {
		return "", fmt.Errorf("no analyzer for %s", issueType)
	}
	target := analyzers.Target{Root: r.Root}
	if files, err := argStrings(args, "file_paths"); err == nil {
		target.Files = files
	}
	report, err := a.Analyze(ctx, target)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", a.Name(), err)
	}
	if report.Clean() {
		return fmt.Sprintf("%s: no findings", a.Name()), nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *Runner) mergeImplementations(args map[string]interface{}) (string, error) {
	primary, err := argString(args, "primary_file")
	if err != nil {
		return "", err
	}
	merge, err := argStrings(args, "merge_files")
	if err != nil {
		return "", err
	}
	content, err := argString(args, "merged_content")
	if err != nil {
		return "", err
	}

	primaryPath, err := r.resolve(primary)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(primaryPath); err != nil {
		return "", fmt.Errorf("primary file %s does not exist", primary)
	}

	// Back up everything before touching anything.
	for _, rel := range append([]string{primary}, merge...) {
		if err := r.backup(rel); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(primaryPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write merged %s: %w", primary, err)
	}
	for _, rel := range merge {
		if rel == primary {
			continue
		}
		path, err := r.resolve(rel)
		if err != nil {
			return "", err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to remove %s: %w", rel, err)
		}
	}
	return fmt.Sprintf("merged %d files into %s", len(merge), primary), nil
}

func (r *Runner) cleanupFiles(args map[string]interface{}) (string, error) {
	rels, err := argStrings(args, "file_paths")
	if err != nil {
		return "", err
	}
	removed := 0
	for _, rel := range rels {
		path, err := r.resolve(rel)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := r.backup(rel); err != nil {
			return "", err
		}
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("failed to remove %s: %w", rel, err)
		}
		removed++
	}
	return fmt.Sprintf("removed %d redundant files (backed up)", removed), nil
}

// backup copies a file into the state directory's backup area before a
// destructive operation.
func (r *Runner) backup(rel string) error {
	src, err := r.resolve(rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", rel, err)
	}
	dst := filepath.Join(r.Root, r.StateDir, "backups", time.Now().UTC().Format("20060102"), rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func (r *Runner) writeReport(kind string, args map[string]interface{}) (string, error) {
	title, err := argString(args, "title")
	if err != nil {
		return "", err
	}
	body, err := argString(args, "body")
	if err != nil {
		return "", err
	}

	dir := filepath.Join(r.Root, r.StateDir, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.md", time.Now().UTC().Format("20060102_150405"), slugify(title))
	path := filepath.Join(dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if files, err := argStrings(args, "files"); err == nil && len(files) > 0 {
		fmt.Fprintf(&b, "**Files:** %s\n\n", strings.Join(files, ", "))
	}
	if blocker, err := argString(args, "blocker"); err == nil {
		fmt.Fprintf(&b, "**Blocker:** %s\n\n", blocker)
	}
	if question, err := argString(args, "question"); err == nil {
		fmt.Fprintf(&b, "**Decision needed:** %s\n\n", question)
	}
	b.WriteString(body)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	rel, _ := filepath.Rel(r.Root, path)
	return "report written to " + rel, nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}

func (r *Runner) moveFile(args map[string]interface{}) (string, error) {
	source, err := argString(args, "source")
	if err != nil {
		return "", err
	}
	dest, err := argString(args, "destination")
	if err != nil {
		return "", err
	}
	srcPath, err := r.resolve(source)
	if err != nil {
		return "", err
	}
	dstPath, err := r.resolve(dest)
	if err != nil {
		return "", err
	}
	// A destination directory keeps the original base name.
	if info, err := os.Stat(dstPath); err == nil && info.IsDir() {
		dstPath = filepath.Join(dstPath, filepath.Base(srcPath))
	} else if strings.HasSuffix(dest, "/") {
		dstPath = filepath.Join(dstPath, filepath.Base(srcPath))
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", source, err)
	}
	rel, _ := filepath.Rel(r.Root, dstPath)
	return fmt.Sprintf("moved %s to %s", source, rel), nil
}

func (r *Runner) renameFile(args map[string]interface{}) (string, error) {
	rel, err := argString(args, "file_path")
	if err != nil {
		return "", err
	}
	newName, err := argString(args, "new_name")
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(newName, "/\\") {
		return "", fmt.Errorf("new_name must be a base name, not a path")
	}
	path, err := r.resolve(rel)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(filepath.Dir(path), newName)
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("failed to rename %s: %w", rel, err)
	}
	return fmt.Sprintf("renamed %s to %s", rel, newName), nil
}

func (r *Runner) restructure(args map[string]interface{}) (string, error) {
	raw, ok := args["moves"].([]interface{})
	if !ok || len(raw) == 0 {
		return "", fmt.Errorf("moves must be a non-empty array")
	}
	moved := 0
	for _, item := range raw {
		pair, ok := item.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("each move must be an object with source and destination")
		}
		if _, err := r.moveFile(pair); err != nil {
			return "", err
		}
		moved++
	}
	return fmt.Sprintf("restructured %d files", moved), nil
}
