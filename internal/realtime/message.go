// Package realtime pushes run/node/escalation events to connected
// dashboard clients over WebSocket, subscribed by case ID rather than
// by workflow/execution ID.
package realtime

import (
	"time"

	"github.com/smilemakc/caseorch/internal/telemetry"
)

// Command types (client -> server).
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// WireEvent is the JSON shape pushed to a dashboard client for one
// telemetry.Event.
type WireEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	CaseID    string    `json:"case_id"`
	RunID     string    `json:"run_id,omitempty"`
	Node      string    `json:"node,omitempty"`
	Message   string    `json:"message"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

func newWireEvent(e telemetry.Event) *WireEvent {
	return &WireEvent{
		Type:       string(e.Type),
		Timestamp:  e.Timestamp,
		CaseID:     e.CaseID,
		RunID:      e.RunID,
		Node:       e.Node,
		Message:    e.Message,
		DurationMs: e.Duration.Milliseconds(),
		Attempt:    e.AttemptNumber,
		Error:      e.ErrorMessage,
		Reason:     e.Reason,
	}
}

// Command is a message sent from client to server.
type Command struct {
	Action string `json:"action"`
	CaseID string `json:"case_id,omitempty"`
}

// Response acknowledges a Command.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func successResponse(action, message string) *Response {
	return &Response{Type: action, Success: true, Message: message}
}

func errorResponse(action, errMsg string) *Response {
	return &Response{Type: action, Success: false, Error: errMsg}
}
