package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smilemakc/caseorch/internal/casegraph"
	"github.com/smilemakc/caseorch/internal/checkpoint"
	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/llm"
)

// fakeStore is a minimal in-memory domain.Storage sufficient to drive
// a full Invoke/Resume cycle through the real casegraph.Graph.
type fakeStore struct {
	mu sync.Mutex

	cases      map[string]*domain.Case
	messages   map[string]*domain.Message
	proposals  map[string]*domain.Proposal
	byKey      map[string]string
	followUps  map[string]*domain.FollowUpSchedule
	dismissals map[string]int
	runs       map[string]*domain.AgentRun
	checkpoints map[string]*domain.Checkpoint

	lockUnavailable bool
	nextID          int
}

var _ domain.Storage = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases:       make(map[string]*domain.Case),
		messages:    make(map[string]*domain.Message),
		proposals:   make(map[string]*domain.Proposal),
		byKey:       make(map[string]string),
		followUps:   make(map[string]*domain.FollowUpSchedule),
		dismissals:  make(map[string]int),
		runs:        make(map[string]*domain.AgentRun),
		checkpoints: make(map[string]*domain.Checkpoint),
	}
}

func (s *fakeStore) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *fakeStore) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[id], nil
}
func (s *fakeStore) SaveCase(ctx context.Context, c *domain.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}
func (s *fakeStore) FindCaseByAgencyEmail(ctx context.Context, email string) (*domain.Case, error) {
	return nil, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) { return nil, nil }
func (s *fakeStore) GetMessageByProviderID(ctx context.Context, id string) (*domain.Message, error) {
	return nil, nil
}
func (s *fakeStore) GetMessageByRFC2822ID(ctx context.Context, id string) (*domain.Message, error) {
	return nil, nil
}
func (s *fakeStore) ListMessagesByCase(ctx context.Context, caseID string) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.messages {
		if m.CaseID == caseID {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *fakeStore) SaveMessage(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}
func (s *fakeStore) MarkMessageProcessed(ctx context.Context, messageID, runID string) error { return nil }

func (s *fakeStore) SaveAnalysis(ctx context.Context, a *domain.ResponseAnalysis) error { return nil }
func (s *fakeStore) GetAnalysis(ctx context.Context, messageID string) (*domain.ResponseAnalysis, error) {
	return nil, nil
}
func (s *fakeStore) GetLatestAnalysisForCase(ctx context.Context, caseID string) (*domain.ResponseAnalysis, error) {
	return nil, nil
}

func (s *fakeStore) UpsertProposal(ctx context.Context, proposalKey string, fields domain.ProposalFields) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[proposalKey]; ok {
		existing := s.proposals[id]
		if existing.Status == domain.ProposalExecuted {
			return existing, nil
		}
		existing.ActionType = fields.ActionType
		existing.Draft = fields.Draft
		existing.Reasoning = fields.Reasoning
		existing.RiskFlags = fields.RiskFlags
		existing.Warnings = fields.Warnings
		existing.CanAutoExecute = fields.CanAutoExecute
		existing.RequiresHuman = fields.RequiresHuman
		existing.Status = fields.Status
		existing.AdjustmentCount = fields.AdjustmentCount
		return existing, nil
	}
	p := &domain.Proposal{
		ID:              s.newID("proposal"),
		RunID:           fields.RunID,
		ActionType:      fields.ActionType,
		Draft:           fields.Draft,
		Reasoning:       fields.Reasoning,
		RiskFlags:       fields.RiskFlags,
		Warnings:        fields.Warnings,
		CanAutoExecute:  fields.CanAutoExecute,
		RequiresHuman:   fields.RequiresHuman,
		Status:          fields.Status,
		ProposalKey:     proposalKey,
		AdjustmentCount: fields.AdjustmentCount,
	}
	s.proposals[p.ID] = p
	s.byKey[proposalKey] = p.ID
	return p, nil
}
func (s *fakeStore) ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok || p.ExecutionKey != "" || p.Status == domain.ProposalExecuted {
		return false, nil
	}
	p.ExecutionKey = executionKey
	return true, nil
}
func (s *fakeStore) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proposals[id], nil
}
func (s *fakeStore) GetProposalByKey(ctx context.Context, proposalKey string) (*domain.Proposal, error) {
	return nil, nil
}
func (s *fakeStore) GetLatestPendingProposal(ctx context.Context, caseID string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Proposal
	for _, p := range s.proposals {
		if p.Status == domain.ProposalPendingApproval {
			latest = p
		}
	}
	return latest, nil
}
func (s *fakeStore) MarkProposalExecuted(ctx context.Context, proposalID, emailJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[proposalID]; ok {
		p.Status = domain.ProposalExecuted
		p.EmailJobID = emailJobID
	}
	return nil
}
func (s *fakeStore) SetProposalHumanDecision(ctx context.Context, proposalID string, decision domain.HumanDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[proposalID]; ok {
		d := decision
		p.HumanDecision = &d
	}
	return nil
}
func (s *fakeStore) IncrementDismissalCount(ctx context.Context, caseID string, action domain.ActionType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := caseID + ":" + string(action)
	s.dismissals[key]++
	return s.dismissals[key], nil
}
func (s *fakeStore) GetDismissalCount(ctx context.Context, caseID string, action domain.ActionType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dismissals[caseID+":"+string(action)], nil
}

func (s *fakeStore) CreateRun(ctx context.Context, r *domain.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}
func (s *fakeStore) SaveRun(ctx context.Context, r *domain.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}
func (s *fakeStore) GetRun(ctx context.Context, id string) (*domain.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id], nil
}

func (s *fakeStore) GetFollowUpSchedule(ctx context.Context, caseID string) (*domain.FollowUpSchedule, error) {
	return s.followUps[caseID], nil
}
func (s *fakeStore) UpsertFollowUpSchedule(ctx context.Context, caseID string, nextFollowupDate *time.Time) (*domain.FollowUpSchedule, error) {
	return nil, nil
}
func (s *fakeStore) ListCasesDueForFollowup(ctx context.Context, asOf time.Time) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) UpsertEscalation(ctx context.Context, e *domain.Escalation) (bool, error) {
	return true, nil
}

func (s *fakeStore) CreatePortalTask(ctx context.Context, t *domain.PortalTask) error { return nil }
func (s *fakeStore) SavePortalTask(ctx context.Context, t *domain.PortalTask) error   { return nil }

func (s *fakeStore) RecordExecution(ctx context.Context, e *domain.ExecutionRecord) error { return nil }
func (s *fakeStore) CountSucceededExecutions(ctx context.Context, proposalID string) (int, error) {
	return 0, nil
}

func (s *fakeStore) SaveDecisionTrace(ctx context.Context, t *domain.DecisionTrace) error { return nil }

func (s *fakeStore) AcquireCaseLock(ctx context.Context, caseID string) (bool, error) {
	return !s.lockUnavailable, nil
}
func (s *fakeStore) ReleaseCaseLock(ctx context.Context, caseID string) error { return nil }

func (s *fakeStore) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.checkpoints[cp.ThreadID]
	copied := *cp
	if existing != nil {
		copied.InterruptValue = existing.InterruptValue
	}
	s.checkpoints[cp.ThreadID] = &copied
	return nil
}
func (s *fakeStore) GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.checkpoints[threadID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}
func (s *fakeStore) SetInterruptValue(ctx context.Context, threadID string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.checkpoints[threadID]
	if !ok {
		return nil
	}
	row.InterruptValue = value
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

type fakeExecutor struct {
	calls int
}

func (e *fakeExecutor) Execute(ctx context.Context, state *casegraph.CaseState) (casegraph.ExecutionResult, error) {
	e.calls++
	return casegraph.ExecutionResult{Outcome: "email_enqueued", EmailJobID: "job-1"}, nil
}

func newCase(id string, mode domain.AutopilotMode) *domain.Case {
	return &domain.Case{
		ID:               id,
		Agency:           domain.Agency{Name: "Springfield PD", Email: "records@springfield.example"},
		JurisdictionCode: "US-IL",
		Status:           domain.CaseReadyToSend,
		AutopilotMode:    mode,
	}
}

func newSupervisor(store *fakeStore) *Supervisor {
	graph := casegraph.New(store, llm.NewMockProvider(), &fakeExecutor{}, casegraph.DefaultConfig())
	return New(store, checkpoint.New(store), graph)
}

func TestInvokeSuspendsAndPersistsCheckpoint(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	s := newSupervisor(store)

	result, err := s.Invoke(context.Background(), "case-1", domain.TriggerInitialRequest, InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != domain.RunPausedAwaitingHuman {
		t.Fatalf("expected paused_awaiting_human, got %s", result.Status)
	}
	if result.Interrupt == nil || result.Interrupt.Type != "HUMAN_APPROVAL" {
		t.Fatalf("expected a HUMAN_APPROVAL interrupt, got %+v", result.Interrupt)
	}
	if store.runs[result.RunID].Status != domain.RunPausedAwaitingHuman {
		t.Fatalf("expected persisted run status paused_awaiting_human, got %s", store.runs[result.RunID].Status)
	}
	if _, ok := store.checkpoints[checkpoint.ThreadID("case-1")]; !ok {
		t.Fatal("expected a checkpoint to be persisted on suspend")
	}
}

func TestResumeApproveCompletesRun(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	s := newSupervisor(store)

	invoked, err := s.Invoke(context.Background(), "case-1", domain.TriggerInitialRequest, InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	result, err := s.Resume(context.Background(), "case-1", domain.HumanDecision{
		Action:     domain.DecisionApprove,
		ProposalID: invoked.Interrupt.ProposalID,
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Status != domain.RunCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.ProposalID == "" {
		t.Fatal("expected a proposal id on the completed result")
	}
	if store.runs[result.RunID].Status != domain.RunCompleted {
		t.Fatalf("expected persisted run status completed, got %s", store.runs[result.RunID].Status)
	}
}

func TestInvokeWhenLockUnavailableSkipsRun(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	store.lockUnavailable = true
	s := newSupervisor(store)

	result, err := s.Invoke(context.Background(), "case-1", domain.TriggerInitialRequest, InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != domain.RunSkippedLocked {
		t.Fatalf("expected skipped_locked, got %s", result.Status)
	}
}

func TestResumeWithNoCheckpointErrors(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	s := newSupervisor(store)

	_, err := s.Resume(context.Background(), "case-1", domain.HumanDecision{Action: domain.DecisionApprove})
	if err == nil {
		t.Fatal("expected an error resuming a case with no checkpoint")
	}
}

func TestConcurrentInvokeSameCaseSkipsSecond(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	s := newSupervisor(store)

	release := make(chan struct{})
	entered := make(chan struct{})
	s.localLocks.Store("case-1", struct{}{})
	go func() {
		close(entered)
		<-release
		s.localLocks.Delete("case-1")
	}()
	<-entered

	result, err := s.Invoke(context.Background(), "case-1", domain.TriggerInitialRequest, InvokeOptions{})
	close(release)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != domain.RunSkippedLocked {
		t.Fatalf("expected skipped_locked while another invocation holds the local lock, got %s", result.Status)
	}
}
