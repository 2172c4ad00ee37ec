// Package portal is the browser-automation collaborator's client seam
// (§9 Open Questions: "portal automation success/failure detection is
// handed off to an external collaborator whose contract is not fully
// fixed here"). caseexec only ever creates a PENDING PortalTask; a
// Driver here is what would later claim it, attempt the submission
// through the agency's portal, and report back.
package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smilemakc/caseorch/internal/domain"
)

// Driver attempts to carry out one PortalTask against a specific
// provider (NextRequest, GovQA, JustFOIA) and reports the resulting
// status. A Driver never mutates the task itself; Dispatcher owns
// persistence so every outcome goes through the same store write.
type Driver interface {
	Provider() string
	Submit(ctx context.Context, task *domain.PortalTask, agency domain.Agency) (domain.PortalTaskStatus, error)
}

// Dispatcher routes a PortalTask to the Driver matching its case's
// portal_provider and persists whatever status comes back. Cases whose
// provider has no registered Driver stay PENDING for manual handling,
// mirroring domain.Case.PortalAutomatable's allow-list.
type Dispatcher struct {
	store   domain.Storage
	drivers map[string]Driver
}

// NewDispatcher constructs a Dispatcher with no drivers registered —
// every task is left PENDING for a human until drivers are added with
// Register. This is the default wiring until a browser-automation
// Driver exists.
func NewDispatcher(store domain.Storage) *Dispatcher {
	return &Dispatcher{store: store, drivers: make(map[string]Driver)}
}

// Register adds a Driver for a specific portal provider.
func (d *Dispatcher) Register(driver Driver) {
	d.drivers[strings.ToLower(driver.Provider())] = driver
}

// Attempt runs the provider-matched Driver for task against agency,
// saving the resulting status. If no Driver is registered for the
// agency's portal_provider, the task is left untouched and Attempt
// returns false so the caller knows nothing happened.
func (d *Dispatcher) Attempt(ctx context.Context, task *domain.PortalTask, agency domain.Agency) (bool, error) {
	driver, ok := d.drivers[strings.ToLower(agency.PortalProvider)]
	if !ok {
		log.Debug().Str("case_id", task.CaseID).Str("provider", agency.PortalProvider).
			Msg("portal: no driver registered for provider, leaving task pending")
		return false, nil
	}

	task.Status = domain.PortalTaskInProgress
	task.UpdatedAt = domain.Now()
	if err := d.store.SavePortalTask(ctx, task); err != nil {
		return false, fmt.Errorf("portal: mark task in_progress: %w", err)
	}

	status, err := driver.Submit(ctx, task, agency)
	if err != nil {
		log.Error().Err(err).Str("case_id", task.CaseID).Str("task_id", task.ID).
			Msg("portal: submission attempt failed")
		task.Status = domain.PortalTaskFailed
		task.UpdatedAt = domain.Now()
		if saveErr := d.store.SavePortalTask(ctx, task); saveErr != nil {
			return false, fmt.Errorf("portal: mark task failed: %w", saveErr)
		}
		return true, err
	}

	task.Status = status
	task.UpdatedAt = domain.Now()
	if err := d.store.SavePortalTask(ctx, task); err != nil {
		return false, fmt.Errorf("portal: save task result: %w", err)
	}
	return true, nil
}

// ManualDriver is the default stand-in for every automatable provider
// until a real browser driver exists: it reports that the task still
// needs a human, without attempting anything. Registering it under a
// provider name sends that provider's tasks through Attempt's store
// writes (IN_PROGRESS, then back to PENDING) rather than skipping them.
type ManualDriver struct {
	provider string
}

func NewManualDriver(provider string) ManualDriver { return ManualDriver{provider: provider} }

func (m ManualDriver) Provider() string { return m.provider }

func (m ManualDriver) Submit(ctx context.Context, task *domain.PortalTask, agency domain.Agency) (domain.PortalTaskStatus, error) {
	return domain.PortalTaskPending, nil
}

// StalePendingCutoff is how long a PENDING PortalTask can sit
// unattempted before it is worth surfacing to a human queue, per the
// same human-attention posture as a SCHEDULED_FOLLOWUP case.
const StalePendingCutoff = 72 * time.Hour

// IsStale reports whether task has been PENDING long enough to need
// human attention rather than another automated attempt.
func IsStale(task *domain.PortalTask, now time.Time) bool {
	return task.Status == domain.PortalTaskPending && now.Sub(task.UpdatedAt) > StalePendingCutoff
}
