// Package refactoring implements the pipeline's refactoring phase:
// one task per invocation, driven through an investigate-then-resolve
// protocol with post-hoc verification and escalation for anything the
// agent cannot fix on its own.
package refactoring

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/justmebob123/autonomy-sub000/internal/ai"
	"github.com/justmebob123/autonomy-sub000/internal/analysis"
	"github.com/justmebob123/autonomy-sub000/internal/analyzers"
	"github.com/justmebob123/autonomy-sub000/internal/config"
	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/gitutil"
	"github.com/justmebob123/autonomy-sub000/internal/ipc"
	"github.com/justmebob123/autonomy-sub000/internal/state"
	"github.com/justmebob123/autonomy-sub000/internal/tools"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// PhaseName identifies this phase in results and events.
const PhaseName = "refactoring"

// Chatter is the model collaborator. *ai.Client satisfies it; tests
// substitute a scripted fake.
type Chatter interface {
	ChatWithHistory(ctx context.Context, userMessage string, specs []tools.Spec) (*ai.ChatResult, error)
	PushToolResults(results []tools.Result)
	ResetHistory()
}

// Archiver stores terminal task snapshots. Optional.
type Archiver interface {
	ArchiveTask(ctx context.Context, task *types.RefactoringTask) error
}

// Config wires the phase's collaborators.
type Config struct {
	Pipeline  config.Config
	State     *state.Pipeline
	Chat      Chatter
	Runner    *tools.Runner
	Analyzers *analyzers.Registry
	Tracker   *analysis.Tracker
	Events    events.Sink
	Git       *gitutil.Git // optional; staleness check degrades without it
	IPC       *ipc.Channel // optional
	Archive   Archiver     // optional
}

// Phase is the refactoring phase. Single-threaded: one Execute call
// at a time, state persisted after every call.
type Phase struct {
	cfg       config.Config
	state     *state.Pipeline
	chat      Chatter
	runner    *tools.Runner
	analyzers *analyzers.Registry
	tracker   *analysis.Tracker
	events    events.Sink
	git       *gitutil.Git
	ipc       *ipc.Channel
	archive   Archiver
}

// New validates the wiring and returns the phase.
func New(cfg Config) (*Phase, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("state is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if cfg.Analyzers == nil {
		cfg.Analyzers = analyzers.NewRegistry()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = analysis.NewTracker(cfg.State.NewAnalysisStore())
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	tools.Seal()
	return &Phase{
		cfg:       cfg.Pipeline,
		state:     cfg.State,
		chat:      cfg.Chat,
		runner:    cfg.Runner,
		analyzers: cfg.Analyzers,
		tracker:   cfg.Tracker,
		events:    cfg.Events,
		git:       cfg.Git,
		ipc:       cfg.IPC,
		archive:   cfg.Archive,
	}, nil
}

// Name identifies the phase to the pipeline driver.
func (p *Phase) Name() string { return PhaseName }

// Execute processes at most one task and returns a well-formed result.
// Errors inside one task never escape as panics or raw errors; the
// driver always gets a PhaseResult.
func (p *Phase) Execute(ctx context.Context) types.PhaseResult {
	p.cleanupBrokenTasks(ctx)

	if p.state.Tasks.Next() == nil {
		if p.shouldReanalyze(ctx) {
			created := p.analyzeAndCreateTasks(ctx)
			if created > 0 {
				p.saveState()
			}
		}
		if p.state.Tasks.Next() == nil {
			return p.result(true, "no refactoring tasks pending", "coding")
		}
	}

	task := p.state.Tasks.Next()
	if err := task.Start(); err != nil {
		// A task the manager selected but cannot start is malformed;
		// drop it rather than loop on it.
		p.state.Tasks.Delete(task.ID)
		p.saveState()
		return p.result(false, fmt.Sprintf("dropped unstartable task %s: %v", task.ID, err), "")
	}
	p.emit(events.New(events.EventTaskStarted, task.ID, PhaseName,
		fmt.Sprintf("attempt %d/%d: %s", task.Attempts, task.MaxAttempts, task.Title)))

	switch task.Approach {
	case types.ApproachDeveloperReview:
		res := p.escalate(ctx, task, tools.ToolRequestDevReview, "task requires developer review")
		p.saveState()
		return res
	case types.ApproachNeedsNewCode:
		if err := task.NeedsReview("needs new code from the coding phase"); err != nil {
			task.Fail(err.Error())
		}
		p.emit(events.New(events.EventTaskBlocked, task.ID, PhaseName, "handed to coding phase"))
		p.saveState()
		return p.result(true, fmt.Sprintf("task %s needs new code", task.ID), "coding")
	}

	res := p.workOnTask(ctx, task)
	p.saveState()
	return res
}

// workOnTask runs one model turn against the task and classifies the
// outcome.
func (p *Phase) workOnTask(ctx context.Context, task *types.RefactoringTask) types.PhaseResult {
	// Tool budget: a task that has burned its batch allowance across
	// attempts goes to a human instead of another model turn.
	if p.cfg.MaxToolBatches > 0 && p.tracker.Batches(task.ID) >= p.cfg.MaxToolBatches {
		return p.escalate(ctx, task, tools.ToolRequestDevReview,
			fmt.Sprintf("tool budget exhausted after %d batches without resolution", p.tracker.Batches(task.ID)))
	}

	p.chat.ResetHistory()
	turn, err := p.chat.ChatWithHistory(ctx, p.buildPrompt(task), tools.All())
	if err != nil {
		return p.failOrEscalate(ctx, task, fmt.Sprintf("model call failed: %v", err))
	}

	if len(turn.ToolCalls) == 0 {
		return p.failOrEscalate(ctx, task, "no tool calls in response")
	}
	calls := turn.ToolCalls

	// Gate: resolving calls require the mandatory checkpoints. A
	// rejection executes nothing; the task re-arms with the rationale
	// for the next attempt.
	if ok, rejection := p.tracker.ValidateResolving(task.ID, calls); !ok {
		p.emit(events.New(events.EventAnalysisRejected, task.ID, PhaseName, "resolution blocked by analysis gate").
			WithSeverity(events.SeverityWarning).
			WithData("rejected_calls", callNames(calls)))
		if task.Attempts >= task.MaxAttempts {
			return p.escalate(ctx, task, tools.ToolCreateIssueReport,
				"analysis gate still unmet on the final attempt")
		}
		task.ForceRetry(rejection)
		return p.result(false, fmt.Sprintf("task %s blocked by analysis gate", task.ID), "")
	}

	// Runaway-analysis ceiling: once the floor is met, a batch of two
	// or more calls with no resolving action is the loop signature;
	// substitute an escalation instead of executing it.
	if len(calls) >= 2 && !hasResolving(calls) && p.tracker.MandatoryComplete(task.ID) {
		return p.escalate(ctx, task, tools.ToolRequestDevReview,
			"analysis loop detected: repeated investigation with no resolving action")
	}

	results, anySuccess := p.runner.ExecuteAll(ctx, calls)
	p.tracker.RecordBatch(task.ID)
	for i, call := range calls {
		p.tracker.RecordToolCall(task.ID, call, task)
		if !results[i].Success {
			p.emit(events.New(events.EventToolExecuted, task.ID, PhaseName,
				fmt.Sprintf("%s failed: %s", call.Name, results[i].Err)).
				WithSeverity(events.SeverityWarning))
		}
	}
	p.chat.PushToolResults(results)

	return p.classify(ctx, task, turn, results, anySuccess)
}

// classify implements the outcome taxonomy: resolved-and-verified,
// resolved-but-unverified, analyzed-but-not-resolved, lazy, and
// all-failed.
func (p *Phase) classify(ctx context.Context, task *types.RefactoringTask, turn *ai.ChatResult, results []tools.Result, anySuccess bool) types.PhaseResult {
	var resolvingSucceeded, resolvingAttempted, investigativeUsed bool
	var failures []string
	for _, r := range results {
		switch tools.CategoryOf(r.Name) {
		case tools.Resolving:
			resolvingAttempted = true
			if r.Success {
				resolvingSucceeded = true
			}
		case tools.Investigative:
			if r.Success {
				investigativeUsed = true
			}
		}
		if !r.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Err))
		}
	}

	switch {
	case resolvingSucceeded:
		verified, msg := p.verifyResolution(ctx, task)
		if !verified {
			p.emit(events.New(events.EventVerificationFailed, task.ID, PhaseName, msg).
				WithSeverity(events.SeverityWarning))
			return p.failOrEscalate(ctx, task, "verification failed: "+msg)
		}
		p.completeTask(ctx, task, resolutionSummary(turn, results), msg)
		return p.result(true, fmt.Sprintf("task %s resolved and verified", task.ID), p.nextPhase())

	case anySuccess && !resolvingAttempted:
		// Analysis without action. Bounded by the attempt cap: the
		// final attempt escalates instead of retrying.
		if task.Attempts >= task.MaxAttempts {
			return p.escalate(ctx, task, tools.ToolCreateIssueReport,
				"max attempts reached without a resolving action")
		}
		// Checklist progress survives the retry; the next attempt
		// picks up the investigation where this one stopped.
		task.ForceRetry(retryReason(task, investigativeUsed))
		return p.result(false, fmt.Sprintf("task %s analyzed but not resolved", task.ID), "")

	default:
		joined := strings.Join(failures, "; ")
		if joined == "" {
			joined = "all tool calls failed"
		}
		if task.Attempts >= 2 || looksTooComplex(joined) {
			return p.escalate(ctx, task, tools.ToolCreateIssueReport, joined)
		}
		return p.failOrEscalate(ctx, task, joined)
	}
}

// completeTask finishes a task, records it in the resolution history,
// clears its checklist state, and archives it.
func (p *Phase) completeTask(ctx context.Context, task *types.RefactoringTask, resolution, verifyMsg string) {
	if err := task.Complete(resolution); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to complete %s: %v\n", task.ID, err)
		return
	}
	p.state.Tasks.RecordResolved(task)
	p.tracker.Reset(task.ID)
	p.emit(events.New(events.EventTaskCompleted, task.ID, PhaseName, resolution).
		WithData("verification", verifyMsg))
	p.archiveTask(ctx, task)
}

// failOrEscalate records a failed attempt while retries remain. The
// final attempt converts into an issue report instead, so no task is
// ever left permanently failed.
func (p *Phase) failOrEscalate(ctx context.Context, task *types.RefactoringTask, reason string) types.PhaseResult {
	if task.Attempts >= task.MaxAttempts {
		return p.escalate(ctx, task, tools.ToolCreateIssueReport, reason)
	}
	task.Fail(reason)
	p.emit(events.New(events.EventTaskFailed, task.ID, PhaseName, reason).
		WithSeverity(events.SeverityWarning))
	return p.result(false, fmt.Sprintf("task %s failed: %s", task.ID, reason), "")
}

// escalate substitutes a synthetic resolving call (issue report or
// review request), records the escalation, and completes the task.
// Escalation counts as resolution so exhausted tasks never loop.
func (p *Phase) escalate(ctx context.Context, task *types.RefactoringTask, tool, reason string) types.PhaseResult {
	call := tools.Call{
		ID:   "synthetic_" + task.ID,
		Name: tool,
		Args: map[string]interface{}{
			"title": fmt.Sprintf("[%s] %s", task.Type, task.Title),
			"body":  escalationBody(task, reason),
			"files": toInterfaceSlice(task.TargetFiles),
		},
	}
	if tool == tools.ToolCreateIssueReport {
		call.Args["blocker"] = reason
	} else {
		call.Args["question"] = reason
	}

	res := p.runner.Execute(ctx, call)
	if !res.Success {
		// Escalation itself failed: leave the task blocked for a
		// human rather than completed with no report.
		if err := task.NeedsReview("escalation failed: " + res.Err); err != nil {
			task.Fail(res.Err)
		}
		p.emit(events.New(events.EventTaskBlocked, task.ID, PhaseName, res.Err).
			WithSeverity(events.SeverityError))
		return p.result(false, fmt.Sprintf("task %s escalation failed", task.ID), "")
	}

	p.state.Tasks.RecordEscalated(task)
	if err := task.Complete("escalated: " + reason); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to complete escalated task %s: %v\n", task.ID, err)
	}
	p.tracker.Reset(task.ID)
	p.emit(events.New(events.EventTaskEscalated, task.ID, PhaseName, reason).
		WithSeverity(events.SeverityWarning).
		WithData("tool", tool))
	p.archiveTask(ctx, task)
	return p.result(true, fmt.Sprintf("task %s escalated: %s", task.ID, reason), p.nextPhase())
}

func (p *Phase) archiveTask(ctx context.Context, task *types.RefactoringTask) {
	if p.archive == nil {
		return
	}
	if err := p.archive.ArchiveTask(ctx, task); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to archive task %s: %v\n", task.ID, err)
	}
}

// nextPhase decides where control goes after a terminal task outcome:
// stay while work remains, otherwise hand off to coding.
func (p *Phase) nextPhase() string {
	if p.state.Tasks.Next() != nil {
		return ""
	}
	return "coding"
}

func (p *Phase) result(success bool, message, next string) types.PhaseResult {
	return types.PhaseResult{
		Success:   success,
		Phase:     PhaseName,
		Message:   message,
		NextPhase: next,
	}
}

func (p *Phase) saveState() {
	if err := p.state.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save pipeline state: %v\n", err)
	}
}

func (p *Phase) emit(e *events.Event) {
	if err := p.events.Emit(e); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to emit event %s: %v\n", e.Type, err)
	}
}

func hasResolving(calls []tools.Call) bool {
	for _, c := range calls {
		if tools.IsResolving(c.Name) {
			return true
		}
	}
	return false
}

func callNames(calls []tools.Call) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// looksTooComplex matches failure text that signals the fix is beyond
// autonomous reach.
func looksTooComplex(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"too complex", "needs review", "requires manual"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// retryReason builds the structured retry hint for a not-yet-resolved
// attempt, keyed on the task's type and subtype rather than its title.
func retryReason(task *types.RefactoringTask, investigated bool) string {
	if !investigated {
		return "previous attempt called tools but neither investigated nor resolved; " +
			"investigate the target files, then apply a resolving tool"
	}
	switch task.Type {
	case types.IssueDuplicate:
		return "analysis complete but the duplication was not resolved; " +
			"use merge_file_implementations to consolidate, or cleanup_redundant_files if one copy is unused"
	case types.IssueArchitecture, types.IssueStructure:
		return "analysis complete but nothing moved; " +
			"use move_file or restructure_directory to fix the placement"
	case types.IssueDeadCode:
		return "analysis complete but the dead code is still there; " +
			"use cleanup_redundant_files to remove it"
	default:
		return "you analyzed but did not act; finish with a resolving tool " +
			"or escalate with create_issue_report if it cannot be fixed autonomously"
	}
}

func resolutionSummary(turn *ai.ChatResult, results []tools.Result) string {
	var actions []string
	for _, r := range results {
		if r.Success && tools.IsResolving(r.Name) {
			actions = append(actions, r.Output)
		}
	}
	summary := strings.Join(actions, "; ")
	if text := strings.TrimSpace(turn.Text); text != "" {
		if summary != "" {
			summary += "; "
		}
		summary += text
	}
	if summary == "" {
		summary = "resolved"
	}
	return summary
}

func escalationBody(task *types.RefactoringTask, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s could not be resolved autonomously.\n\n", task.ID)
	fmt.Fprintf(&b, "Issue type: %s\nPriority: %s\nAttempts: %d/%d\n\n",
		task.Type, task.Priority, task.Attempts, task.MaxAttempts)
	fmt.Fprintf(&b, "Reason: %s\n\n", reason)
	if task.Description != "" {
		fmt.Fprintf(&b, "## Background\n\n%s\n", task.Description)
	}
	return b.String()
}
