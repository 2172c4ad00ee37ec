// Package queue implements the Queue Bridge: the three job classes
// that connect external triggers (inbound mail, cron, human decision)
// to the Run Supervisor, with retry/backoff and dedup by job ID.
package queue

import "github.com/smilemakc/caseorch/internal/domain"

// JobType is one of the three job classes the supervisor understands.
type JobType string

const (
	JobRunOnInbound    JobType = "run_on_inbound"
	JobRunOnSchedule   JobType = "run_on_schedule"
	JobResumeFromHuman JobType = "resume_from_human"
)

// JobOptions carries job-type-specific extras, mirroring the
// original queue's free-form "options" bag (e.g. the triggering
// message ID for run_on_inbound).
type JobOptions struct {
	MessageID string `json:"messageId,omitempty"`
}

// Job is one unit of work handed to a worker.
type Job struct {
	ID            string               `json:"id"`
	Type          JobType              `json:"type"`
	CaseID        string               `json:"caseId"`
	TriggerType   domain.TriggerType   `json:"triggerType,omitempty"`
	HumanDecision *domain.HumanDecision `json:"humanDecision,omitempty"`
	Options       JobOptions           `json:"options,omitempty"`
}
