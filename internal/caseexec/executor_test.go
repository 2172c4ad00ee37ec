package caseexec

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smilemakc/caseorch/internal/casegraph"
	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/mail"
)

type fakeStore struct {
	mu          sync.Mutex
	proposals   map[string]*domain.Proposal
	cases       map[string]*domain.Case
	portalTasks []*domain.PortalTask
	escalations []*domain.Escalation
	records     []*domain.ExecutionRecord
	followUps   map[string]*domain.FollowUpSchedule
	messages    []*domain.Message
	claimFails  bool
}

var _ domain.Storage = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		proposals: make(map[string]*domain.Proposal),
		cases:     make(map[string]*domain.Case),
		followUps: make(map[string]*domain.FollowUpSchedule),
	}
}

func (s *fakeStore) GetCase(ctx context.Context, id string) (*domain.Case, error) { return s.cases[id], nil }
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
	return nil, nil
}
func (s *fakeStore) SaveMessage(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
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
	return nil, nil
}
func (s *fakeStore) ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimFails {
		return false, nil
	}
	p := s.proposals[proposalID]
	if p == nil || p.Status == domain.ProposalExecuted || p.ExecutionKey != "" {
		return false, nil
	}
	p.ExecutionKey = executionKey
	return true, nil
}
func (s *fakeStore) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.proposals[id]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}
func (s *fakeStore) GetProposalByKey(ctx context.Context, proposalKey string) (*domain.Proposal, error) {
	return nil, nil
}
func (s *fakeStore) GetLatestPendingProposal(ctx context.Context, caseID string) (*domain.Proposal, error) {
	return nil, nil
}
func (s *fakeStore) MarkProposalExecuted(ctx context.Context, proposalID, emailJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.proposals[proposalID]
	if p == nil {
		return nil
	}
	p.Status = domain.ProposalExecuted
	p.EmailJobID = emailJobID
	now := domain.Now()
	p.ExecutedAt = &now
	return nil
}
func (s *fakeStore) SetProposalHumanDecision(ctx context.Context, proposalID string, decision domain.HumanDecision) error {
	return nil
}
func (s *fakeStore) IncrementDismissalCount(ctx context.Context, caseID string, action domain.ActionType) (int, error) {
	return 0, nil
}
func (s *fakeStore) GetDismissalCount(ctx context.Context, caseID string, action domain.ActionType) (int, error) {
	return 0, nil
}

func (s *fakeStore) CreateRun(ctx context.Context, r *domain.AgentRun) error { return nil }
func (s *fakeStore) SaveRun(ctx context.Context, r *domain.AgentRun) error  { return nil }
func (s *fakeStore) GetRun(ctx context.Context, id string) (*domain.AgentRun, error) { return nil, nil }

func (s *fakeStore) GetFollowUpSchedule(ctx context.Context, caseID string) (*domain.FollowUpSchedule, error) {
	return s.followUps[caseID], nil
}
func (s *fakeStore) UpsertFollowUpSchedule(ctx context.Context, caseID string, nextFollowupDate *time.Time) (*domain.FollowUpSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.followUps[caseID]
	if f == nil {
		f = &domain.FollowUpSchedule{CaseID: caseID}
		s.followUps[caseID] = f
	}
	f.FollowupCount++
	f.NextFollowupDate = nextFollowupDate
	return f, nil
}

func (s *fakeStore) ListCasesDueForFollowup(ctx context.Context, asOf time.Time) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) UpsertEscalation(ctx context.Context, e *domain.Escalation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, e)
	return true, nil
}

func (s *fakeStore) CreatePortalTask(ctx context.Context, t *domain.PortalTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portalTasks = append(s.portalTasks, t)
	return nil
}
func (s *fakeStore) SavePortalTask(ctx context.Context, t *domain.PortalTask) error { return nil }

func (s *fakeStore) RecordExecution(ctx context.Context, e *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, e)
	return nil
}
func (s *fakeStore) CountSucceededExecutions(ctx context.Context, proposalID string) (int, error) {
	return 0, nil
}

func (s *fakeStore) SaveDecisionTrace(ctx context.Context, t *domain.DecisionTrace) error { return nil }

func (s *fakeStore) AcquireCaseLock(ctx context.Context, caseID string) (bool, error) { return true, nil }
func (s *fakeStore) ReleaseCaseLock(ctx context.Context, caseID string) error         { return nil }

func (s *fakeStore) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error { return nil }
func (s *fakeStore) GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	return nil, nil
}
func (s *fakeStore) SetInterruptValue(ctx context.Context, threadID string, value []byte) error {
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

type syncEmailQueue struct {
	sent []string
}

func (q *syncEmailQueue) EnqueueWithID(ctx context.Context, id string, delay time.Duration, send func(ctx context.Context)) (string, error) {
	q.sent = append(q.sent, id)
	send(ctx)
	return id, nil
}

type fakeMailer struct {
	result *mail.SendResult
	err    error
	calls  int
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.OutboundMessage) (*mail.SendResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type recordingNotifier struct {
	calls int
}

func (n *recordingNotifier) Notify(ctx context.Context, e *domain.Escalation) error {
	n.calls++
	return nil
}

func newExecutor(store *fakeStore, queue EmailQueue, mailer mail.Provider, notifier *recordingNotifier, mode domain.ExecutionMode) *Executor {
	e := New(store, queue, mailer, notifier, "requests@caseorch.org", 7, mode)
	e.delay = func() time.Duration { return 0 }
	return e
}

func newState(caseID string, c *domain.Case, action domain.ActionType, proposal *domain.Proposal) *casegraph.CaseState {
	return &casegraph.CaseState{
		CaseID:         caseID,
		Case:           c,
		ProposedAction: action,
		Proposal:       proposal,
	}
}

func TestExecuteEmailSendEnqueuesAndMarksExecuted(t *testing.T) {
	store := newFakeStore()
	c := &domain.Case{ID: "case-1", Agency: domain.Agency{Email: "records@agency.gov"}, Status: domain.CaseReadyToSend}
	store.cases[c.ID] = c
	proposal := &domain.Proposal{ID: "prop-1", CaseID: "case-1", ActionType: domain.ActionSendFollowup, Draft: domain.Draft{Subject: "Follow up"}}
	store.proposals[proposal.ID] = proposal

	queue := &syncEmailQueue{}
	mailer := &fakeMailer{result: &mail.SendResult{ProviderMessageID: "prov-1", RFC2822ID: "<r1@caseorch>"}}
	exec := newExecutor(store, queue, mailer, &recordingNotifier{}, domain.ExecutionLive)

	state := newState("case-1", c, domain.ActionSendFollowup, proposal)
	result, err := exec.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != "email_enqueued" || result.EmailJobID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if mailer.calls != 1 {
		t.Fatalf("expected one mailer call, got %d", mailer.calls)
	}
	if store.proposals[proposal.ID].Status != domain.ProposalExecuted {
		t.Fatalf("expected proposal executed, got %s", store.proposals[proposal.ID].Status)
	}
	if store.cases[c.ID].Status != domain.CaseAwaitingResponse {
		t.Fatalf("expected case awaiting_response, got %s", store.cases[c.ID].Status)
	}
	if store.followUps["case-1"].FollowupCount != 1 {
		t.Fatalf("expected follow-up count 1, got %d", store.followUps["case-1"].FollowupCount)
	}
	if len(store.messages) != 1 {
		t.Fatalf("expected one sent message recorded, got %d", len(store.messages))
	}
}

func TestExecutePortalCaseCreatesPortalTaskInsteadOfEmail(t *testing.T) {
	store := newFakeStore()
	c := &domain.Case{ID: "case-2", Agency: domain.Agency{Email: "records@agency.gov", PortalURL: "https://nextrequest.example/agency"}, Status: domain.CaseReadyToSend}
	store.cases[c.ID] = c
	proposal := &domain.Proposal{ID: "prop-2", CaseID: "case-2", ActionType: domain.ActionSendRebuttal, Draft: domain.Draft{Subject: "Rebuttal"}}
	store.proposals[proposal.ID] = proposal

	queue := &syncEmailQueue{}
	mailer := &fakeMailer{}
	exec := newExecutor(store, queue, mailer, &recordingNotifier{}, domain.ExecutionLive)

	state := newState("case-2", c, domain.ActionSendRebuttal, proposal)
	result, err := exec.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != "portal_task_created" {
		t.Fatalf("expected portal_task_created, got %q", result.Outcome)
	}
	if mailer.calls != 0 {
		t.Fatalf("expected no mail sent for a portal case, got %d calls", mailer.calls)
	}
	if len(store.portalTasks) != 1 {
		t.Fatalf("expected one portal task, got %d", len(store.portalTasks))
	}
	if store.cases[c.ID].Status != domain.CasePortalInProgress {
		t.Fatalf("expected case portal_in_progress, got %s", store.cases[c.ID].Status)
	}
}

func TestExecuteEscalateNotifiesOnlyWhenInserted(t *testing.T) {
	store := newFakeStore()
	c := &domain.Case{ID: "case-3", Status: domain.CaseReadyToSend}
	store.cases[c.ID] = c
	proposal := &domain.Proposal{ID: "prop-3", CaseID: "case-3", ActionType: domain.ActionEscalate}
	store.proposals[proposal.ID] = proposal

	queue := &syncEmailQueue{}
	mailer := &fakeMailer{}
	notifier := &recordingNotifier{}
	exec := newExecutor(store, queue, mailer, notifier, domain.ExecutionLive)

	state := newState("case-3", c, domain.ActionEscalate, proposal)
	state.PauseReason = domain.PauseSensitive
	result, err := exec.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != "escalated" {
		t.Fatalf("expected escalated, got %q", result.Outcome)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected one notification, got %d", notifier.calls)
	}
	if store.cases[c.ID].Status != domain.CaseEscalated {
		t.Fatalf("expected case escalated, got %s", store.cases[c.ID].Status)
	}
}

func TestExecuteAlreadyExecutedShortCircuits(t *testing.T) {
	store := newFakeStore()
	c := &domain.Case{ID: "case-4", Status: domain.CaseAwaitingResponse}
	store.cases[c.ID] = c
	proposal := &domain.Proposal{ID: "prop-4", CaseID: "case-4", ActionType: domain.ActionSendFollowup, Status: domain.ProposalExecuted, EmailJobID: "job-already"}
	store.proposals[proposal.ID] = proposal

	queue := &syncEmailQueue{}
	mailer := &fakeMailer{}
	exec := newExecutor(store, queue, mailer, &recordingNotifier{}, domain.ExecutionLive)

	state := newState("case-4", c, domain.ActionSendFollowup, proposal)
	result, err := exec.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != "already_executed" || result.EmailJobID != "job-already" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if mailer.calls != 0 || len(queue.sent) != 0 {
		t.Fatalf("expected no new side effects on a re-run, got mailer=%d queue=%d", mailer.calls, len(queue.sent))
	}
}

func TestExecuteClaimFailedDoesNotSend(t *testing.T) {
	store := newFakeStore()
	store.claimFails = true
	c := &domain.Case{ID: "case-5", Status: domain.CaseReadyToSend}
	store.cases[c.ID] = c
	proposal := &domain.Proposal{ID: "prop-5", CaseID: "case-5", ActionType: domain.ActionSendFollowup}
	store.proposals[proposal.ID] = proposal

	queue := &syncEmailQueue{}
	mailer := &fakeMailer{}
	exec := newExecutor(store, queue, mailer, &recordingNotifier{}, domain.ExecutionLive)

	state := newState("case-5", c, domain.ActionSendFollowup, proposal)
	result, err := exec.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != "claim_failed" {
		t.Fatalf("expected claim_failed, got %q", result.Outcome)
	}
	if mailer.calls != 0 {
		t.Fatalf("expected no send on a failed claim, got %d", mailer.calls)
	}
}

func TestExecuteNoneActionRecordsExecution(t *testing.T) {
	store := newFakeStore()
	c := &domain.Case{ID: "case-6", Status: domain.CaseReadyToSend}
	store.cases[c.ID] = c
	proposal := &domain.Proposal{ID: "prop-6", CaseID: "case-6", ActionType: domain.ActionNone}
	store.proposals[proposal.ID] = proposal

	queue := &syncEmailQueue{}
	mailer := &fakeMailer{}
	exec := newExecutor(store, queue, mailer, &recordingNotifier{}, domain.ExecutionLive)

	state := newState("case-6", c, domain.ActionNone, proposal)
	result, err := exec.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != "no_action" {
		t.Fatalf("expected no_action, got %q", result.Outcome)
	}
	if len(store.records) != 1 || store.records[0].Outcome != domain.ExecutionSucceeded {
		t.Fatalf("expected one succeeded execution record, got %+v", store.records)
	}
}
