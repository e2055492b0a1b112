package refactoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justmebob123/autonomy-sub000/internal/analyzers"
	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/tasks"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// Analyze forces one full analyzer sweep immediately, regardless of
// staleness, and persists the resulting queue.
func (p *Phase) Analyze(ctx context.Context) int {
	created := p.analyzeAndCreateTasks(ctx)
	p.saveState()
	return created
}

// shouldReanalyze decides whether a full analyzer sweep is due. Any of
// these triggers it: no analysis has ever run, the last one is older
// than the configured interval, another phase has pending requests for
// us, or the working tree has drifted past the changed-file threshold.
func (p *Phase) shouldReanalyze(ctx context.Context) bool {
	if p.state.LastAnalysis == nil {
		return true
	}
	if time.Since(*p.state.LastAnalysis) > p.cfg.ReanalyzeInterval {
		return true
	}
	if p.ipc != nil && p.ipc.HasPendingFor(PhaseName) {
		return true
	}
	if p.git != nil {
		count, err := p.git.ChangedFileCount(ctx, p.cfg.ProjectRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: changed-file check failed: %v\n", err)
			return false
		}
		if count > p.cfg.ReanalyzeChangedFiles {
			return true
		}
	}
	return false
}

// analyzeAndCreateTasks runs every registered analyzer over the
// project tree and enqueues a task per finding. Analyzer errors are
// logged and skipped; one broken detector must not stop the sweep.
// Returns the number of tasks created.
func (p *Phase) analyzeAndCreateTasks(ctx context.Context) int {
	p.ackPendingRequests()

	target := analyzers.Target{Root: p.cfg.ProjectRoot}
	all := p.analyzers.All()

	// Analyzers only read the tree, so they fan out; task creation
	// stays on this goroutine because the manager is not locked.
	reports := make([]*analyzers.Report, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, a := range all {
		i, a := i, a
		g.Go(func() error {
			report, err := a.Analyze(gctx, target)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: analyzer %s failed: %v\n", a.Name(), err)
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()

	created := 0
	for i, a := range all {
		report := reports[i]
		if report == nil {
			continue
		}
		for _, f := range report.Findings {
			task, err := p.state.Tasks.Create(createRequestFor(a.IssueType(), f, p.cfg.ProjectRoot))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not create task for %s finding: %v\n", a.Name(), err)
				continue
			}
			if task == nil {
				continue // duplicate or suppressed
			}
			created++
			p.emit(events.New(events.EventTaskCreated, task.ID, PhaseName, task.Title).
				WithData("issue_type", string(task.Type)).
				WithData("priority", string(task.Priority)))
		}
	}

	changed := 0
	if p.git != nil {
		if n, err := p.git.ChangedFileCount(ctx, p.cfg.ProjectRoot); err == nil {
			changed = n
		}
	}
	p.state.MarkAnalyzed(changed)
	p.emit(events.New(events.EventAnalysisRun, "", PhaseName,
		fmt.Sprintf("analysis sweep created %d tasks", created)))
	return created
}

// ackPendingRequests drains cross-phase requests addressed to this
// phase. The request content becomes part of the next sweep's context
// implicitly; acknowledging it stops it from re-triggering analysis.
func (p *Phase) ackPendingRequests() {
	if p.ipc == nil {
		return
	}
	pending, err := p.ipc.PendingFor(PhaseName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read phase requests: %v\n", err)
		return
	}
	for _, req := range pending {
		if err := p.ipc.Ack(req); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to ack request %s: %v\n", req.Subject, err)
		}
	}
}

// createRequestFor maps an analyzer finding to a task request.
func createRequestFor(issueType types.IssueType, f analyzers.Finding, root string) tasks.CreateRequest {
	files := make([]string, 0, len(f.Files))
	for _, file := range f.Files {
		if filepath.IsAbs(file) {
			if rel, err := filepath.Rel(root, file); err == nil {
				file = rel
			}
		}
		files = append(files, file)
	}
	return tasks.CreateRequest{
		Type:        issueType,
		Priority:    priorityFor(issueType),
		Approach:    approachFor(issueType),
		Title:       titleFor(issueType, files),
		Description: f.Description,
		Subtype:     f.Evidence["identifiers"],
		TargetFiles: files,
	}
}

// priorityFor ranks issue types: integration conflicts and duplicated
// logic rot fastest, style-adjacent findings can wait.
func priorityFor(t types.IssueType) types.Priority {
	switch t {
	case types.IssueConflict, types.IssueIntegration:
		return types.PriorityCritical
	case types.IssueDuplicate, types.IssueArchitecture:
		return types.PriorityHigh
	case types.IssueDeadCode, types.IssueComplexity:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// approachFor picks the fix approach. Conflicts need a human call;
// everything else starts autonomous and escalates on its own evidence.
func approachFor(t types.IssueType) types.FixApproach {
	if t == types.IssueConflict {
		return types.ApproachDeveloperReview
	}
	return types.ApproachAutonomous
}

func titleFor(t types.IssueType, files []string) string {
	scope := "codebase"
	if len(files) > 0 {
		scope = filepath.Base(files[0])
		if len(files) > 1 {
			scope = fmt.Sprintf("%s and %d more", scope, len(files)-1)
		}
	}
	switch t {
	case types.IssueDuplicate:
		return "Consolidate duplicated logic in " + scope
	case types.IssueDeadCode:
		return "Remove dead code in " + scope
	case types.IssueArchitecture:
		return "Fix architecture violation in " + scope
	case types.IssueIntegration:
		return "Resolve integration conflict around " + scope
	case types.IssueComplexity:
		return "Reduce complexity in " + scope
	default:
		return fmt.Sprintf("Fix %s issue in %s", t, scope)
	}
}

// cleanupBrokenTasks repairs queue damage left by crashes or external
// edits: tasks whose targets vanished are deleted, tasks stranded
// in_progress by a dead run are re-armed for another attempt.
func (p *Phase) cleanupBrokenTasks(ctx context.Context) {
	var dirty bool
	for _, task := range p.state.Tasks.All() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch task.Status {
		case types.StatusNew, types.StatusFailed:
			if p.targetsVanished(task) {
				if err := p.state.Tasks.Delete(task.ID); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not drop task %s with missing targets: %v\n", task.ID, err)
					continue
				}
				p.tracker.Reset(task.ID)
				dirty = true
				p.emit(events.New(events.EventTaskFailed, task.ID, PhaseName,
					"dropped: target files no longer exist"))
			}
		case types.StatusInProgress:
			// Only an interrupted run leaves this status behind, since
			// every Execute drives its task to a terminal state.
			task.ForceRetry("previous run was interrupted mid-attempt")
			dirty = true
		}
	}
	if dirty {
		p.saveState()
	}
}

// targetsVanished reports whether none of a task's target files exist
// anymore. A partially missing set is still workable.
func (p *Phase) targetsVanished(task *types.RefactoringTask) bool {
	for _, f := range task.TargetFiles {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.cfg.ProjectRoot, f)
		}
		if _, err := os.Stat(path); err == nil {
			return false
		}
	}
	return len(task.TargetFiles) > 0
}

// buildPrompt assembles the task briefing for the model turn,
// including any retry guidance from a prior rejected attempt.
func (p *Phase) buildPrompt(task *types.RefactoringTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the refactoring agent for this codebase.\n\n")
	fmt.Fprintf(&b, "## Task %s (attempt %d of %d)\n\n", task.ID, task.Attempts, task.MaxAttempts)
	fmt.Fprintf(&b, "Issue type: %s\nPriority: %s\nTitle: %s\n\n", task.Type, task.Priority, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", task.Description)
	}
	if len(task.TargetFiles) > 0 {
		b.WriteString("Target files:\n")
		for _, f := range task.TargetFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		b.WriteString("\n")
	}
	if reason := task.RetryReason(); reason != "" {
		fmt.Fprintf(&b, "## Previous attempt feedback\n\n%s\n\n", reason)
	}
	done, total := p.tracker.CompletedCount(task.ID)
	fmt.Fprintf(&b, "Analysis checklist progress: %d of %d checkpoints.\n", done, total)
	b.WriteString("Investigate the target files first (read_target_files, read_architecture, " +
		"then at least one analysis tool), then apply a resolving tool. " +
		"If the issue cannot be fixed autonomously, use create_issue_report " +
		"or request_developer_review instead of leaving it unresolved.\n")
	return b.String()
}
