package refactoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justmebob123/autonomy-sub000/internal/ai"
	"github.com/justmebob123/autonomy-sub000/internal/analysis"
	"github.com/justmebob123/autonomy-sub000/internal/analyzers"
	"github.com/justmebob123/autonomy-sub000/internal/config"
	"github.com/justmebob123/autonomy-sub000/internal/state"
	"github.com/justmebob123/autonomy-sub000/internal/tasks"
	"github.com/justmebob123/autonomy-sub000/internal/tools"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// fakeChat replays scripted turns in place of the model.
type fakeChat struct {
	turns   []*ai.ChatResult
	errs    []error
	calls   int
	prompts []string
	pushed  [][]tools.Result
}

func (f *fakeChat) ChatWithHistory(ctx context.Context, msg string, specs []tools.Spec) (*ai.ChatResult, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, msg)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.turns) {
		return &ai.ChatResult{}, nil
	}
	return f.turns[i], nil
}

func (f *fakeChat) PushToolResults(rs []tools.Result) { f.pushed = append(f.pushed, rs) }
func (f *fakeChat) ResetHistory()                     {}

type testEnv struct {
	phase   *Phase
	state   *state.Pipeline
	tracker *analysis.Tracker
	chat    *fakeChat
	root    string
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestEnv(t *testing.T, chat *fakeChat) *testEnv {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "ARCHITECTURE.md", "# Architecture\n\nFlat layout.\n")
	writeFile(t, root, "util.go", "package app\n\nfunc Alpha() int { return 1 }\n")
	writeFile(t, root, "helper.go", "package app\n\nfunc Beta() int { return 2 }\n")

	cfg := config.Default(root)
	st := state.New(filepath.Join(root, cfg.StateDir))
	tr := analysis.NewTracker(st.NewAnalysisStore())
	reg := analyzers.NewRegistry()

	ph, err := New(Config{
		Pipeline:  cfg,
		State:     st,
		Chat:      chat,
		Runner:    tools.NewRunner(root, cfg.StateDir, reg),
		Analyzers: reg,
		Tracker:   tr,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{phase: ph, state: st, tracker: tr, chat: chat, root: root}
}

// markAnalyzed suppresses the analysis sweep so tests drive the queue
// directly.
func (e *testEnv) markAnalyzed() {
	e.state.MarkAnalyzed(0)
}

func (e *testEnv) addTask(t *testing.T, req tasks.CreateRequest) *types.RefactoringTask {
	t.Helper()
	task, err := e.state.Tasks.Create(req)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("task creation suppressed unexpectedly")
	}
	return task
}

func (e *testEnv) primeChecklist(task *types.RefactoringTask) {
	for _, f := range task.TargetFiles {
		e.tracker.RecordToolCall(task.ID, tools.Call{
			Name: tools.ToolReadFile,
			Args: map[string]interface{}{"file_path": f},
		}, task)
	}
	e.tracker.RecordToolCall(task.ID, tools.Call{
		Name: tools.ToolReadFile,
		Args: map[string]interface{}{"file_path": "ARCHITECTURE.md"},
	}, task)
	e.tracker.RecordToolCall(task.ID, tools.Call{Name: tools.ToolAnalyzeComplexity}, task)
}

func TestInvestigateThenResolveLifecycle(t *testing.T) {
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolReadFile, Args: map[string]interface{}{"file_path": "helper.go"}},
				{ID: "c2", Name: tools.ToolReadFile, Args: map[string]interface{}{"file_path": "ARCHITECTURE.md"}},
				{ID: "c3", Name: tools.ToolDetectDeadCode, Args: map[string]interface{}{}},
			}},
			{ToolCalls: []tools.Call{
				{ID: "c4", Name: tools.ToolCleanupRedundantFiles, Args: map[string]interface{}{
					"file_paths": []interface{}{"helper.go"},
				}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code in helper.go",
		TargetFiles: []string{"helper.go"},
	})

	// First turn investigates without resolving; the task re-arms with
	// guidance but keeps its checklist progress.
	res := env.phase.Execute(context.Background())
	if res.Success {
		t.Fatalf("investigation-only turn should not succeed: %+v", res)
	}
	if task.Status != types.StatusNew {
		t.Fatalf("status after investigation = %s, want new", task.Status)
	}
	if task.RetryReason() == "" {
		t.Fatal("expected retry guidance after investigation-only turn")
	}
	if !env.tracker.MandatoryComplete(task.ID) {
		t.Fatal("mandatory checklist should be complete after the investigative batch")
	}

	// Second turn resolves; the target vanishes, so verification passes.
	res = env.phase.Execute(context.Background())
	if !res.Success {
		t.Fatalf("resolving turn failed: %+v", res)
	}
	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if task.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", task.Attempts)
	}
	if _, err := os.Stat(filepath.Join(env.root, "helper.go")); !os.IsNotExist(err) {
		t.Fatal("helper.go should have been removed")
	}
	if res.NextPhase != "coding" {
		t.Fatalf("next phase = %q, want coding after the queue drains", res.NextPhase)
	}
	// Resolution history suppresses re-detection of the same issue.
	dup, err := env.state.Tasks.Create(tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Title:       "Remove dead code in helper.go",
		TargetFiles: []string{"helper.go"},
	})
	if err != nil || dup != nil {
		t.Fatalf("resolved issue recreated: task=%v err=%v", dup, err)
	}
}

func TestPrematureResolutionRejected(t *testing.T) {
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolCleanupRedundantFiles, Args: map[string]interface{}{
					"file_paths": []interface{}{"helper.go"},
				}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})

	res := env.phase.Execute(context.Background())
	if res.Success {
		t.Fatal("gated resolution should not report success")
	}
	if task.Status != types.StatusNew {
		t.Fatalf("status = %s, want new", task.Status)
	}
	if !strings.Contains(task.RetryReason(), "Resolution blocked") {
		t.Fatalf("retry reason should carry the rejection: %q", task.RetryReason())
	}
	// Nothing executed: the file survives.
	if _, err := os.Stat(filepath.Join(env.root, "helper.go")); err != nil {
		t.Fatal("helper.go should be untouched after a rejected batch")
	}

	// The rejection feeds the next prompt.
	env.phase.Execute(context.Background())
	last := chat.prompts[len(chat.prompts)-1]
	if !strings.Contains(last, "Resolution blocked") {
		t.Fatal("next prompt should include the rejection guidance")
	}
}

func TestGateExhaustionEscalates(t *testing.T) {
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolRenameFile, Args: map[string]interface{}{
					"file_path": "helper.go", "new_name": "beta.go",
				}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueNaming,
		Priority:    types.PriorityLow,
		Approach:    types.ApproachAutonomous,
		Title:       "Rename helper",
		TargetFiles: []string{"helper.go"},
	})
	task.Attempts = 2 // two prior attempts already burned

	res := env.phase.Execute(context.Background())
	if !res.Success {
		t.Fatalf("escalation should count as success: %+v", res)
	}
	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed via escalation", task.Status)
	}
	reports, err := os.ReadDir(filepath.Join(env.root, ".autonomy", "reports"))
	if err != nil || len(reports) == 0 {
		t.Fatalf("expected an issue report on escalation: %v", err)
	}
	// Escalated issues are never recreated.
	dup, err := env.state.Tasks.Create(tasks.CreateRequest{
		Type:        types.IssueNaming,
		Priority:    types.PriorityLow,
		Title:       "Rename helper",
		TargetFiles: []string{"helper.go"},
	})
	if err != nil || dup != nil {
		t.Fatalf("escalated issue recreated: task=%v err=%v", dup, err)
	}
}

func TestAnalysisLoopEscalatesToReview(t *testing.T) {
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolListSourceFiles, Args: map[string]interface{}{}},
				{ID: "c2", Name: tools.ToolDetectDeadCode, Args: map[string]interface{}{}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})
	env.primeChecklist(task)

	res := env.phase.Execute(context.Background())
	if !res.Success {
		t.Fatalf("loop escalation should count as success: %+v", res)
	}
	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	reviews, err := os.ReadDir(filepath.Join(env.root, ".autonomy", "reviews"))
	if err != nil || len(reviews) == 0 {
		t.Fatalf("expected a review request from the loop detector: %v", err)
	}
}

func TestToolBudgetEscalatesToReview(t *testing.T) {
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolReadFile, Args: map[string]interface{}{"file_path": "helper.go"}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.phase.cfg.MaxToolBatches = 1
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})

	// First turn spends the only allowed batch.
	if res := env.phase.Execute(context.Background()); res.Success {
		t.Fatalf("investigation-only turn should not succeed: %+v", res)
	}
	if env.tracker.Batches(task.ID) != 1 {
		t.Fatalf("batches = %d, want 1", env.tracker.Batches(task.ID))
	}

	// Second turn escalates before consuming another model call.
	res := env.phase.Execute(context.Background())
	if !res.Success || task.Status != types.StatusCompleted {
		t.Fatalf("budget exhaustion should escalate: %+v status=%s", res, task.Status)
	}
	if chat.calls != 1 {
		t.Fatalf("model calls = %d, want 1", chat.calls)
	}
}

func TestFailedVerificationFailsTask(t *testing.T) {
	// The model removes the wrong file, so the dead declaration in the
	// actual target survives the re-run of the detector.
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolCleanupRedundantFiles, Args: map[string]interface{}{
					"file_paths": []interface{}{"scratch.go"},
				}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	writeFile(t, env.root, "scratch.go", "package app\n\nfunc Scratch() {}\n")
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code in helper.go",
		TargetFiles: []string{"helper.go"},
	})
	env.primeChecklist(task)

	res := env.phase.Execute(context.Background())
	if res.Success {
		t.Fatal("unverified resolution should not succeed")
	}
	if task.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if !strings.Contains(task.Description, "verification failed") {
		t.Fatalf("failure reason missing from description: %q", task.Description)
	}
	if _, err := os.Stat(filepath.Join(env.root, "helper.go")); err != nil {
		t.Fatal("the actual target should still exist")
	}
}

func TestComplexityResolutionAcceptedWithoutRecheck(t *testing.T) {
	// Complexity has no re-check wiring: a successful resolving call
	// completes the task even when the merged result is still long.
	long := "package app\n\nfunc Huge() {\n\tx := 0\n" + strings.Repeat("\tx++\n", 130) + "\t_ = x\n}\n"
	chat := &fakeChat{
		turns: []*ai.ChatResult{
			{ToolCalls: []tools.Call{
				{ID: "c1", Name: tools.ToolMergeImplementations, Args: map[string]interface{}{
					"primary_file":   "big.go",
					"merge_files":    []interface{}{"big2.go"},
					"merged_content": long,
				}},
			}},
		},
	}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	writeFile(t, env.root, "big.go", long)
	writeFile(t, env.root, "big2.go", "package app\n\nfunc Huge2() {}\n")
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueComplexity,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Reduce complexity in big.go",
		TargetFiles: []string{"big.go"},
	})
	env.primeChecklist(task)

	res := env.phase.Execute(context.Background())
	if !res.Success {
		t.Fatalf("complexity resolution should be accepted as-is: %+v", res)
	}
	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
}

func TestNoToolCallsFailsTask(t *testing.T) {
	chat := &fakeChat{turns: []*ai.ChatResult{{Text: "I think this is fine as is."}}}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})

	res := env.phase.Execute(context.Background())
	if res.Success {
		t.Fatal("a turn with no tool calls should fail the task")
	}
	if task.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
}

func TestModelErrorFailsTask(t *testing.T) {
	chat := &fakeChat{errs: []error{errors.New("api unavailable")}}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})

	res := env.phase.Execute(context.Background())
	if res.Success {
		t.Fatal("model error should fail the turn")
	}
	if task.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
}

func TestExhaustedFailuresEscalate(t *testing.T) {
	// A turn with no tool calls on the final attempt must end in an
	// issue report, never in a permanently failed task.
	chat := &fakeChat{turns: []*ai.ChatResult{{Text: "nothing actionable here"}}}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})
	task.Attempts = 2 // Start consumes the final attempt

	res := env.phase.Execute(context.Background())
	if !res.Success {
		t.Fatalf("final-attempt failure should escalate: %+v", res)
	}
	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed via escalation", task.Status)
	}
	reports, err := os.ReadDir(filepath.Join(env.root, ".autonomy", "reports"))
	if err != nil || len(reports) == 0 {
		t.Fatalf("expected an issue report for the exhausted task: %v", err)
	}
}

func TestModelErrorOnFinalAttemptEscalates(t *testing.T) {
	chat := &fakeChat{errs: []error{errors.New("api unavailable")}}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Remove dead code",
		TargetFiles: []string{"helper.go"},
	})
	task.Attempts = 2

	res := env.phase.Execute(context.Background())
	if !res.Success || task.Status != types.StatusCompleted {
		t.Fatalf("exhausted model errors should escalate: %+v status=%s", res, task.Status)
	}
}

func TestDeveloperReviewTasksEscalateImmediately(t *testing.T) {
	chat := &fakeChat{}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueConflict,
		Priority:    types.PriorityCritical,
		Approach:    types.ApproachDeveloperReview,
		Title:       "Competing config loaders",
		TargetFiles: []string{"util.go", "helper.go"},
	})

	res := env.phase.Execute(context.Background())
	if !res.Success {
		t.Fatalf("review escalation should succeed: %+v", res)
	}
	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if chat.calls != 0 {
		t.Fatalf("review tasks must not consume model turns, got %d", chat.calls)
	}
	reviews, err := os.ReadDir(filepath.Join(env.root, ".autonomy", "reviews"))
	if err != nil || len(reviews) == 0 {
		t.Fatalf("expected a review request file: %v", err)
	}
}

func TestNeedsNewCodeHandsOffToCoding(t *testing.T) {
	chat := &fakeChat{}
	env := newTestEnv(t, chat)
	env.markAnalyzed()
	task := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueStructure,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachNeedsNewCode,
		Title:       "Missing adapter layer",
		TargetFiles: []string{"util.go"},
	})

	res := env.phase.Execute(context.Background())
	if !res.Success || res.NextPhase != "coding" {
		t.Fatalf("expected a coding handoff, got %+v", res)
	}
	if task.Status != types.StatusBlocked {
		t.Fatalf("status = %s, want blocked", task.Status)
	}
	if chat.calls != 0 {
		t.Fatal("handoff must not consume model turns")
	}
}

func TestEmptyQueueRunsAnalysisSweep(t *testing.T) {
	chat := &fakeChat{}
	env := newTestEnv(t, chat)
	// Two files sharing a sizable identical block trip the duplicate
	// detector during the sweep.
	block := ""
	for i := 0; i < 10; i++ {
		block += "\tv" + strings.Repeat("x", i+1) + " := compute(in)\n\tif vx := 0; vx > 0 {\n\t\treturn vx\n\t}\n"
	}
	writeFile(t, env.root, "copy_a.go", "package app\n\nfunc CopyA(in int) int {\n"+block+"\treturn 0\n}\n")
	writeFile(t, env.root, "copy_b.go", "package app\n\nfunc CopyB(in int) int {\n"+block+"\treturn 0\n}\n")

	created := env.phase.analyzeAndCreateTasks(context.Background())
	if created == 0 {
		t.Fatal("sweep should create at least one task from the duplicated block")
	}
	if env.state.Tasks.Next() == nil {
		t.Fatal("created tasks should be executable")
	}
	if env.state.LastAnalysis == nil {
		t.Fatal("sweep should stamp the analysis time")
	}

	// A second sweep over the unchanged tree dedups everything.
	if again := env.phase.analyzeAndCreateTasks(context.Background()); again != 0 {
		t.Fatalf("re-sweep created %d duplicate tasks", again)
	}
}

func TestShouldReanalyze(t *testing.T) {
	env := newTestEnv(t, &fakeChat{})
	if !env.phase.shouldReanalyze(context.Background()) {
		t.Fatal("never-analyzed pipeline must re-analyze")
	}
	env.state.MarkAnalyzed(0)
	if env.phase.shouldReanalyze(context.Background()) {
		t.Fatal("fresh analysis should not re-trigger")
	}
	old := time.Now().Add(-2 * time.Hour).UTC()
	env.state.LastAnalysis = &old
	if !env.phase.shouldReanalyze(context.Background()) {
		t.Fatal("stale analysis must re-trigger")
	}
}

func TestCleanupBrokenTasks(t *testing.T) {
	env := newTestEnv(t, &fakeChat{})
	env.markAnalyzed()

	gone := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueDeadCode,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Dead code in vanished.go",
		TargetFiles: []string{"vanished.go"},
	})
	stuck := env.addTask(t, tasks.CreateRequest{
		Type:        types.IssueComplexity,
		Priority:    types.PriorityMedium,
		Approach:    types.ApproachAutonomous,
		Title:       "Complexity in util.go",
		TargetFiles: []string{"util.go"},
	})
	if err := stuck.Start(); err != nil {
		t.Fatal(err)
	}

	env.phase.cleanupBrokenTasks(context.Background())

	if env.state.Tasks.Get(gone.ID) != nil {
		t.Fatal("task with vanished targets should be dropped")
	}
	if stuck.Status != types.StatusNew {
		t.Fatalf("interrupted task status = %s, want new", stuck.Status)
	}
	if stuck.RetryReason() == "" {
		t.Fatal("interrupted task should carry a retry reason")
	}
}
