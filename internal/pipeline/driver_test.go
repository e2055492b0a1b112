package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/justmebob123/autonomy-sub000/internal/state"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

type scriptedPhase struct {
	name    string
	results []types.PhaseResult
	calls   int
	panics  bool
}

func (p *scriptedPhase) Name() string { return p.name }

func (p *scriptedPhase) Execute(ctx context.Context) types.PhaseResult {
	i := p.calls
	p.calls++
	if p.panics {
		panic("scripted panic")
	}
	if i >= len(p.results) {
		return types.PhaseResult{Success: true, Phase: p.name, Message: "idle"}
	}
	return p.results[i]
}

func TestDriverRoutesOnNextPhase(t *testing.T) {
	st := state.New(t.TempDir())
	refactor := &scriptedPhase{name: "refactoring", results: []types.PhaseResult{
		{Success: true, Phase: "refactoring", Message: "drained", NextPhase: "coding"},
	}}
	coding := &scriptedPhase{name: "coding", results: []types.PhaseResult{
		{Success: true, Phase: "coding", Message: "pass", NextPhase: "refactoring"},
	}}

	d, err := New(Config{State: st, Phases: []Runner{refactor, coding}, MaxCycles: 3})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if refactor.calls != 2 || coding.calls != 1 {
		t.Fatalf("calls = refactoring:%d coding:%d, want 2 and 1", refactor.calls, coding.calls)
	}
	if st.Cycle != 3 {
		t.Fatalf("cycle = %d, want 3", st.Cycle)
	}

	// State survived each cycle.
	reloaded, err := state.Load(st.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Cycle != 3 || reloaded.CurrentPhase != "coding" {
		t.Fatalf("reloaded state = cycle %d phase %s", reloaded.Cycle, reloaded.CurrentPhase)
	}
}

func TestDriverIgnoresUnknownSuccessor(t *testing.T) {
	st := state.New(t.TempDir())
	ph := &scriptedPhase{name: "refactoring", results: []types.PhaseResult{
		{Success: true, Phase: "refactoring", NextPhase: "no_such_phase"},
	}}
	d, err := New(Config{State: st, Phases: []Runner{ph}, MaxCycles: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.CurrentPhase != "refactoring" {
		t.Fatalf("phase drifted to %q", st.CurrentPhase)
	}
	if ph.calls != 2 {
		t.Fatalf("calls = %d, want 2", ph.calls)
	}
}

func TestDriverStopsOnContextCancel(t *testing.T) {
	st := state.New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	canceller := &scriptedPhase{name: "refactoring"}

	d, err := New(Config{
		State:  st,
		Phases: []Runner{canceller},
		OnCycle: func(cycle int, res types.PhaseResult) {
			if cycle >= 2 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if st.Cycle < 2 {
		t.Fatalf("cycle = %d, want at least 2", st.Cycle)
	}
}

func TestDriverContainsPhasePanic(t *testing.T) {
	st := state.New(t.TempDir())
	boom := &scriptedPhase{name: "refactoring", panics: true}
	d, err := New(Config{State: st, Phases: []Runner{boom}, MaxCycles: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("panic should be contained, got %v", err)
	}
	if st.Cycle != 1 {
		t.Fatalf("cycle = %d, want 1", st.Cycle)
	}
}

func TestDriverRejectsDuplicatePhases(t *testing.T) {
	st := state.New(t.TempDir())
	a := &scriptedPhase{name: "refactoring"}
	b := &scriptedPhase{name: "refactoring"}
	if _, err := New(Config{State: st, Phases: []Runner{a, b}}); err == nil {
		t.Fatal("expected duplicate phase error")
	}
}

func TestStubPhaseRoutesOnward(t *testing.T) {
	stub := NewStubPhase("coding", "qa", nil, nil)
	res := stub.Execute(context.Background())
	if !res.Success || res.NextPhase != "qa" || res.Phase != "coding" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
