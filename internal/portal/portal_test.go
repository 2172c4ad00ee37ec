package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smilemakc/caseorch/internal/domain"
)

type fakeStore struct {
	domain.Storage
	tasks map[string]*domain.PortalTask
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*domain.PortalTask)}
}

func (s *fakeStore) SavePortalTask(ctx context.Context, t *domain.PortalTask) error {
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

type stubDriver struct {
	provider string
	status   domain.PortalTaskStatus
	err      error
}

func (d stubDriver) Provider() string { return d.provider }
func (d stubDriver) Submit(ctx context.Context, task *domain.PortalTask, agency domain.Agency) (domain.PortalTaskStatus, error) {
	return d.status, d.err
}

func TestAttemptWithNoRegisteredDriverLeavesTaskUntouched(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store)
	task := &domain.PortalTask{ID: "task-1", CaseID: "case-1", Status: domain.PortalTaskPending}

	ran, err := d.Attempt(context.Background(), task, domain.Agency{PortalProvider: "nextrequest"})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if ran {
		t.Fatal("expected Attempt to report it did not run without a registered driver")
	}
	if _, saved := store.tasks["task-1"]; saved {
		t.Fatal("expected no save when no driver is registered")
	}
}

func TestAttemptSucceedsAndPersistsStatus(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store)
	d.Register(stubDriver{provider: "govqa", status: domain.PortalTaskDone})
	task := &domain.PortalTask{ID: "task-2", CaseID: "case-2", Status: domain.PortalTaskPending, UpdatedAt: time.Now()}

	ran, err := d.Attempt(context.Background(), task, domain.Agency{PortalProvider: "GovQA"})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if !ran {
		t.Fatal("expected Attempt to report it ran")
	}
	if store.tasks["task-2"].Status != domain.PortalTaskDone {
		t.Fatalf("expected persisted status done, got %s", store.tasks["task-2"].Status)
	}
}

func TestAttemptFailureMarksTaskFailed(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store)
	d.Register(stubDriver{provider: "justfoia", err: errors.New("portal unreachable")})
	task := &domain.PortalTask{ID: "task-3", CaseID: "case-3", Status: domain.PortalTaskPending}

	ran, err := d.Attempt(context.Background(), task, domain.Agency{PortalProvider: "justfoia"})
	if err == nil {
		t.Fatal("expected the submission error to propagate")
	}
	if !ran {
		t.Fatal("expected Attempt to report it ran even though submission failed")
	}
	if store.tasks["task-3"].Status != domain.PortalTaskFailed {
		t.Fatalf("expected persisted status failed, got %s", store.tasks["task-3"].Status)
	}
}

func TestManualDriverReportsPending(t *testing.T) {
	driver := NewManualDriver("nextrequest")
	status, err := driver.Submit(context.Background(), &domain.PortalTask{}, domain.Agency{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status != domain.PortalTaskPending {
		t.Fatalf("expected pending, got %s", status)
	}
}

func TestIsStaleAfterCutoff(t *testing.T) {
	now := time.Now()
	fresh := &domain.PortalTask{Status: domain.PortalTaskPending, UpdatedAt: now.Add(-time.Hour)}
	stale := &domain.PortalTask{Status: domain.PortalTaskPending, UpdatedAt: now.Add(-StalePendingCutoff - time.Hour)}
	done := &domain.PortalTask{Status: domain.PortalTaskDone, UpdatedAt: now.Add(-StalePendingCutoff - time.Hour)}

	if IsStale(fresh, now) {
		t.Fatal("expected a freshly created task not to be stale")
	}
	if !IsStale(stale, now) {
		t.Fatal("expected an old pending task to be stale")
	}
	if IsStale(done, now) {
		t.Fatal("a completed task is never stale")
	}
}
