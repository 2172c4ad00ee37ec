// Package telemetry is the ambient logging and run-event layer: one
// structured event type for everything the case graph, queue, and
// executor emit, fanned out to slog/zerolog for operators and to any
// registered Recorder (e.g. the realtime dashboard hub) for live
// observers.
package telemetry

import "time"

// EventType is the kind of run-lifecycle event being recorded.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
	EventRunInterrupted EventType = "run_interrupted"
	EventNodeEntered   EventType = "node_entered"
	EventNodeCompleted EventType = "node_completed"
	EventNodeFailed    EventType = "node_failed"
	EventNodeRetrying  EventType = "node_retrying"
	EventEscalated     EventType = "escalated"
)

// Level is the severity of an Event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one structured occurrence during a run. Every field beyond
// the first four is optional; a Recorder should ignore what it doesn't
// need rather than rejecting the event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`

	CaseID string `json:"case_id,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Node   string `json:"node,omitempty"`

	Duration      time.Duration `json:"duration,omitempty"`
	AttemptNumber int           `json:"attempt_number,omitempty"`
	RetryDelay    time.Duration `json:"retry_delay,omitempty"`

	Error        error  `json:"-"`
	ErrorMessage string `json:"error_message,omitempty"`

	Reason string `json:"reason,omitempty"`
}

func newEvent(t EventType, level Level, caseID, runID, message string) Event {
	return Event{Timestamp: time.Now(), Type: t, Level: level, CaseID: caseID, RunID: runID, Message: message}
}

// NewRunStartedEvent records that a run began processing a trigger.
func NewRunStartedEvent(caseID, runID string) Event {
	return newEvent(EventRunStarted, LevelInfo, caseID, runID, "run started")
}

// NewRunCompletedEvent records a run reaching a terminal, non-error
// status.
func NewRunCompletedEvent(caseID, runID string, duration time.Duration) Event {
	e := newEvent(EventRunCompleted, LevelInfo, caseID, runID, "run completed")
	e.Duration = duration
	return e
}

// NewRunFailedEvent records a run terminating with an error.
func NewRunFailedEvent(caseID, runID string, err error, duration time.Duration) Event {
	e := newEvent(EventRunFailed, LevelError, caseID, runID, "run failed")
	e.Duration = duration
	e.Error = err
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// NewRunInterruptedEvent records a run suspending to await a human
// decision.
func NewRunInterruptedEvent(caseID, runID, reason string) Event {
	e := newEvent(EventRunInterrupted, LevelWarn, caseID, runID, "run interrupted: "+reason)
	e.Reason = reason
	return e
}

// NewNodeEnteredEvent records entry into one case graph node.
func NewNodeEnteredEvent(caseID, runID, node string) Event {
	e := newEvent(EventNodeEntered, LevelDebug, caseID, runID, "node entered: "+node)
	e.Node = node
	return e
}

// NewNodeCompletedEvent records a node finishing without error.
func NewNodeCompletedEvent(caseID, runID, node string, duration time.Duration) Event {
	e := newEvent(EventNodeCompleted, LevelDebug, caseID, runID, "node completed: "+node)
	e.Node = node
	e.Duration = duration
	return e
}

// NewNodeFailedEvent records a node erroring, with whether the
// executor will retry it.
func NewNodeFailedEvent(caseID, runID, node string, err error, willRetry bool) Event {
	msg := "node failed: " + node
	if willRetry {
		msg += " (will retry)"
	}
	e := newEvent(EventNodeFailed, LevelError, caseID, runID, msg)
	e.Node = node
	e.Error = err
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// NewNodeRetryingEvent records a scheduled retry of a failed node.
func NewNodeRetryingEvent(caseID, runID, node string, attempt int, delay time.Duration) Event {
	e := newEvent(EventNodeRetrying, LevelWarn, caseID, runID, "node retrying: "+node)
	e.Node = node
	e.AttemptNumber = attempt
	e.RetryDelay = delay
	return e
}

// NewEscalatedEvent records a case being handed to a human for the
// given reason.
func NewEscalatedEvent(caseID, runID, reason string) Event {
	e := newEvent(EventEscalated, LevelWarn, caseID, runID, "escalated: "+reason)
	e.Reason = reason
	return e
}
