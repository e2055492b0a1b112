// Package events defines the pipeline audit trail. Every significant
// lifecycle transition emits an event; the storage layer keeps them
// for post-hoc inspection of what the agent did and why.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	// Task lifecycle.
	EventTaskCreated   EventType = "task_created"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskBlocked   EventType = "task_blocked"
	EventTaskEscalated EventType = "task_escalated"

	// Gating and verification.
	EventAnalysisRejected    EventType = "analysis_rejected"
	EventVerificationPassed  EventType = "verification_passed"
	EventVerificationFailed  EventType = "verification_failed"
	EventVerificationSkipped EventType = "verification_skipped"

	// Phase flow.
	EventPhaseStarted   EventType = "phase_started"
	EventPhaseCompleted EventType = "phase_completed"
	EventAnalysisRun    EventType = "analysis_run"
	EventToolExecuted   EventType = "tool_executed"
)

// Severity classifies an event for filtering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one audit-trail entry.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	TaskID    string                 `json:"task_id,omitempty"`
	Phase     string                 `json:"phase,omitempty"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New builds an info event with a fresh ID.
func New(eventType EventType, taskID, phase, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Phase:     phase,
		Severity:  SeverityInfo,
		Message:   message,
	}
}

// WithSeverity sets the severity and returns the event for chaining.
func (e *Event) WithSeverity(s Severity) *Event {
	e.Severity = s
	return e
}

// WithData attaches a payload field.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// Sink receives events. Implementations must not block the pipeline;
// a failed write is logged and dropped, never fatal.
type Sink interface {
	Emit(event *Event) error
}

// Discard is a Sink that drops everything, for tests and for running
// without a database.
type Discard struct{}

func (Discard) Emit(*Event) error { return nil }
