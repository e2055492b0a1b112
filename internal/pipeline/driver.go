// Package pipeline runs the phase loop: each cycle invokes the current
// phase once, persists state, and routes to the phase's requested
// successor. Phases are call-and-return; the driver owns all looping.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/state"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// Runner is one phase. Execute processes at most one unit of work and
// returns; the driver decides what happens next.
type Runner interface {
	Name() string
	Execute(ctx context.Context) types.PhaseResult
}

// Config wires the driver.
type Config struct {
	State  *state.Pipeline
	Phases []Runner
	Events events.Sink
	// MaxCycles bounds the loop; zero or negative means run until the
	// context is cancelled.
	MaxCycles int
	// OnCycle, when set, observes every phase result. Used by the CLI
	// for progress output.
	OnCycle func(cycle int, res types.PhaseResult)
}

// Driver owns the phase loop.
type Driver struct {
	state     *state.Pipeline
	phases    map[string]Runner
	first     string
	events    events.Sink
	maxCycles int
	onCycle   func(int, types.PhaseResult)
}

// New builds a driver over the given phases. The first phase is the
// default entry point when the persisted state names no current phase.
func New(cfg Config) (*Driver, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("state is required")
	}
	if len(cfg.Phases) == 0 {
		return nil, fmt.Errorf("at least one phase is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	d := &Driver{
		state:     cfg.State,
		phases:    make(map[string]Runner, len(cfg.Phases)),
		first:     cfg.Phases[0].Name(),
		events:    cfg.Events,
		maxCycles: cfg.MaxCycles,
		onCycle:   cfg.OnCycle,
	}
	for _, ph := range cfg.Phases {
		if _, dup := d.phases[ph.Name()]; dup {
			return nil, fmt.Errorf("duplicate phase %q", ph.Name())
		}
		d.phases[ph.Name()] = ph
	}
	return d, nil
}

// Run loops until the cycle budget is spent or the context ends. State
// is saved after every phase return, so a kill at any point loses at
// most the cycle in flight.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if d.maxCycles > 0 && d.state.Cycle >= d.maxCycles {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := d.state.CurrentPhase
		phase, ok := d.phases[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "Warning: unknown phase %q, falling back to %s\n", name, d.first)
			phase = d.phases[d.first]
			d.state.CurrentPhase = d.first
		}

		d.emit(events.New(events.EventPhaseStarted, "", phase.Name(), ""))
		res := d.phase(ctx, phase)
		d.emit(events.New(events.EventPhaseCompleted, "", res.Phase, res.Message).
			WithData("success", res.Success).
			WithData("next_phase", res.NextPhase))

		d.state.Cycle++
		if res.NextPhase != "" {
			if _, ok := d.phases[res.NextPhase]; ok {
				d.state.CurrentPhase = res.NextPhase
			} else {
				fmt.Fprintf(os.Stderr, "Warning: phase %s requested unknown successor %q\n",
					res.Phase, res.NextPhase)
			}
		}
		if err := d.state.Save(); err != nil {
			return fmt.Errorf("failed to persist state after cycle %d: %w", d.state.Cycle, err)
		}
		if d.onCycle != nil {
			d.onCycle(d.state.Cycle, res)
		}
	}
}

// phase invokes one phase, converting a panic into a failed result so
// a bug in one phase cannot take the whole loop down.
func (d *Driver) phase(ctx context.Context, ph Runner) (res types.PhaseResult) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Warning: phase %s panicked: %v\n", ph.Name(), r)
			res = types.PhaseResult{
				Success: false,
				Phase:   ph.Name(),
				Message: fmt.Sprintf("phase panicked: %v", r),
			}
		}
	}()
	return ph.Execute(ctx)
}

func (d *Driver) emit(e *events.Event) {
	if err := d.events.Emit(e); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to emit event %s: %v\n", e.Type, err)
	}
}
