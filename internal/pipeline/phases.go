package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/ipc"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

// StubPhase is a placeholder phase that routes straight back to the
// refactoring phase. The planning, coding, and qa slots use it until
// those phases grow real implementations; it drains its IPC inbox so
// requests addressed to it do not pile up forever.
type StubPhase struct {
	name   string
	next   string
	ipc    *ipc.Channel
	events events.Sink
}

// NewStubPhase builds a pass-through phase.
func NewStubPhase(name, next string, ch *ipc.Channel, sink events.Sink) *StubPhase {
	if sink == nil {
		sink = events.Discard{}
	}
	return &StubPhase{name: name, next: next, ipc: ch, events: sink}
}

func (s *StubPhase) Name() string { return s.name }

// Execute acknowledges any pending requests and hands control onward.
func (s *StubPhase) Execute(ctx context.Context) types.PhaseResult {
	handled := 0
	if s.ipc != nil {
		pending, err := s.ipc.PendingFor(s.name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s phase could not read requests: %v\n", s.name, err)
		}
		for _, req := range pending {
			if err := s.ipc.Ack(req); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %s phase could not ack %s: %v\n", s.name, req.Subject, err)
				continue
			}
			handled++
		}
	}
	if err := s.events.Emit(events.New(events.EventPhaseCompleted, "", s.name,
		fmt.Sprintf("%s phase pass-through, %d requests handled", s.name, handled))); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to emit event: %v\n", err)
	}
	return types.PhaseResult{
		Success:   true,
		Phase:     s.name,
		Message:   fmt.Sprintf("nothing to do in %s, %d requests handled", s.name, handled),
		NextPhase: s.next,
	}
}
