package casegraph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/llm"
)

// fakeStore is an in-memory domain.Storage good enough to drive the
// graph end to end: one map per aggregate, no concurrency control
// beyond a mutex, sequential IDs.
type fakeStore struct {
	mu sync.Mutex

	cases      map[string]*domain.Case
	messages   map[string]*domain.Message
	analyses   map[string]*domain.ResponseAnalysis // by message id
	proposals  map[string]*domain.Proposal          // by id
	byKey      map[string]string                    // proposalKey -> id
	followUps  map[string]*domain.FollowUpSchedule
	dismissals map[string]int
	traces     []*domain.DecisionTrace
	nextID     int
}

var _ domain.Storage = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases:      make(map[string]*domain.Case),
		messages:   make(map[string]*domain.Message),
		analyses:   make(map[string]*domain.ResponseAnalysis),
		proposals:  make(map[string]*domain.Proposal),
		byKey:      make(map[string]string),
		followUps:  make(map[string]*domain.FollowUpSchedule),
		dismissals: make(map[string]int),
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

func (s *fakeStore) FindCaseByAgencyEmail(ctx context.Context, agencyEmail string) (*domain.Case, error) {
	return nil, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id], nil
}

func (s *fakeStore) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	return nil, nil
}

func (s *fakeStore) GetMessageByRFC2822ID(ctx context.Context, rfc2822ID string) (*domain.Message, error) {
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

func (s *fakeStore) MarkMessageProcessed(ctx context.Context, messageID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageID]; ok {
		m.ProcessedRunID = runID
	}
	return nil
}

func (s *fakeStore) SaveAnalysis(ctx context.Context, a *domain.ResponseAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[a.MessageID] = a
	return nil
}

func (s *fakeStore) GetAnalysis(ctx context.Context, messageID string) (*domain.ResponseAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyses[messageID], nil
}

func (s *fakeStore) GetLatestAnalysisForCase(ctx context.Context, caseID string) (*domain.ResponseAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.ResponseAnalysis
	for _, m := range s.messages {
		if m.CaseID != caseID {
			continue
		}
		if a, ok := s.analyses[m.ID]; ok {
			latest = a
		}
	}
	return latest, nil
}

func (s *fakeStore) UpsertProposal(ctx context.Context, proposalKey string, fields domain.ProposalFields) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[proposalKey]; ok {
		existing := s.proposals[id]
		if existing.Status == domain.ProposalExecuted {
			return existing, nil
		}
		existing.RunID = fields.RunID
		existing.TriggerMessageID = fields.TriggerMessageID
		existing.ActionType = fields.ActionType
		existing.Draft = fields.Draft
		existing.Reasoning = fields.Reasoning
		existing.Confidence = fields.Confidence
		existing.RiskFlags = fields.RiskFlags
		existing.Warnings = fields.Warnings
		existing.CanAutoExecute = fields.CanAutoExecute
		existing.RequiresHuman = fields.RequiresHuman
		existing.Status = fields.Status
		existing.AdjustmentCount = fields.AdjustmentCount
		return existing, nil
	}

	p := &domain.Proposal{
		ID:               s.newID("proposal"),
		CaseID:           "",
		RunID:            fields.RunID,
		TriggerMessageID: fields.TriggerMessageID,
		ActionType:       fields.ActionType,
		Draft:            fields.Draft,
		Reasoning:        fields.Reasoning,
		Confidence:       fields.Confidence,
		RiskFlags:        fields.RiskFlags,
		Warnings:         fields.Warnings,
		CanAutoExecute:   fields.CanAutoExecute,
		RequiresHuman:    fields.RequiresHuman,
		Status:           fields.Status,
		ProposalKey:      proposalKey,
		AdjustmentCount:  fields.AdjustmentCount,
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[proposalKey]; ok {
		return s.proposals[id], nil
	}
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

func (s *fakeStore) CreateRun(ctx context.Context, r *domain.AgentRun) error { return nil }
func (s *fakeStore) SaveRun(ctx context.Context, r *domain.AgentRun) error  { return nil }
func (s *fakeStore) GetRun(ctx context.Context, id string) (*domain.AgentRun, error) {
	return nil, nil
}

func (s *fakeStore) GetFollowUpSchedule(ctx context.Context, caseID string) (*domain.FollowUpSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *fakeStore) SaveDecisionTrace(ctx context.Context, t *domain.DecisionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, t)
	return nil
}

func (s *fakeStore) AcquireCaseLock(ctx context.Context, caseID string) (bool, error) {
	return true, nil
}
func (s *fakeStore) ReleaseCaseLock(ctx context.Context, caseID string) error { return nil }

func (s *fakeStore) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error { return nil }
func (s *fakeStore) GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	return nil, nil
}
func (s *fakeStore) SetInterruptValue(ctx context.Context, threadID string, value []byte) error {
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

// fakeExecutor is a scripted casegraph.Executor.
type fakeExecutor struct {
	result ExecutionResult
	err    error
	calls  int
}

func (e *fakeExecutor) Execute(ctx context.Context, state *CaseState) (ExecutionResult, error) {
	e.calls++
	return e.result, e.err
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

func TestInvokeInitialRequestSuspendsForApproval(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	provider := llm.NewMockProvider()
	executor := &fakeExecutor{}
	g := New(store, provider, executor, DefaultConfig())

	state, outcome, err := g.Invoke(context.Background(), "run-1", "case-1", domain.TriggerInitialRequest, "")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("expected suspend, got %v", outcome.Kind)
	}
	if outcome.Payload == nil || outcome.Payload.Type != "HUMAN_APPROVAL" {
		t.Fatalf("expected HUMAN_APPROVAL payload, got %+v", outcome.Payload)
	}
	if state.PendingProposal == nil {
		t.Fatalf("expected PendingProposal to be carried into the suspended state")
	}
	if state.Case.Status != domain.CaseNeedsHumanReview {
		t.Fatalf("expected case status needs_human_review, got %s", state.Case.Status)
	}
	if executor.calls != 0 {
		t.Fatalf("executor must not run before a human decision")
	}
}

func TestResumeApproveExecutesAndCommits(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	provider := llm.NewMockProvider()
	executor := &fakeExecutor{result: ExecutionResult{Outcome: "sent", EmailJobID: "job-1"}}
	g := New(store, provider, executor, DefaultConfig())

	state, outcome, err := g.Invoke(context.Background(), "run-1", "case-1", domain.TriggerInitialRequest, "")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("expected suspend, got %v", outcome.Kind)
	}

	decision := domain.HumanDecision{Action: domain.DecisionApprove, ProposalID: state.PendingProposal.ID}
	final, outcome2, err := g.Resume(context.Background(), state, decision)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if outcome2.Kind != OutcomeDone {
		t.Fatalf("expected done, got %v", outcome2.Kind)
	}
	if executor.calls != 1 {
		t.Fatalf("expected executor to run exactly once, got %d", executor.calls)
	}
	if final.EmailJobID != "job-1" {
		t.Fatalf("expected email job id to be carried, got %q", final.EmailJobID)
	}
	if final.Case.NextDueAt == nil {
		t.Fatalf("expected commit_state to set next_due_at")
	}
}

func TestInboundLowFeeAutoAccepts(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	msg := &domain.Message{ID: "msg-1", CaseID: "case-1", Direction: domain.DirectionInbound, BodyText: "fee quote of $20"}
	store.messages[msg.ID] = msg

	provider := llm.NewMockProvider()
	fee := 20.0
	provider.Analyses["fee quote"] = &domain.ResponseAnalysis{
		Classification:     domain.ClassFeeQuote,
		Confidence:         0.95,
		Sentiment:          domain.SentimentNeutral,
		ExtractedFeeAmount: &fee,
		RequiresAction:     true,
		SuggestedAction:    domain.ActionAcceptFee,
	}
	executor := &fakeExecutor{result: ExecutionResult{Outcome: "sent", EmailJobID: "job-2"}}
	g := New(store, provider, executor, DefaultConfig())

	_, outcome, err := g.Invoke(context.Background(), "run-2", "case-1", domain.TriggerInboundMessage, "msg-1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeDone {
		t.Fatalf("expected a low fee to auto-accept straight through to done, got %v", outcome.Kind)
	}
	if executor.calls != 1 {
		t.Fatalf("expected one auto-executed send, got %d calls", executor.calls)
	}
}

func TestInboundHighFeeGatesForSupervisedApproval(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotSupervised)
	msg := &domain.Message{ID: "msg-1", CaseID: "case-1", Direction: domain.DirectionInbound, BodyText: "fee quote of $900"}
	store.messages[msg.ID] = msg

	provider := llm.NewMockProvider()
	fee := 900.0
	provider.Analyses["fee quote"] = &domain.ResponseAnalysis{
		Classification:     domain.ClassFeeQuote,
		Confidence:         0.9,
		Sentiment:          domain.SentimentNeutral,
		ExtractedFeeAmount: &fee,
		RequiresAction:     true,
	}
	executor := &fakeExecutor{}
	g := New(store, provider, executor, DefaultConfig())

	state, outcome, err := g.Invoke(context.Background(), "run-3", "case-1", domain.TriggerInboundMessage, "msg-1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("expected a high fee under SUPERVISED mode to gate, got %v", outcome.Kind)
	}
	if state.PendingProposal == nil {
		t.Fatalf("expected a pending proposal")
	}
	if executor.calls != 0 {
		t.Fatalf("executor must not run before the human decides")
	}
}

func TestRecordsReadyClosesWithoutProposal(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotAuto)
	msg := &domain.Message{ID: "msg-1", CaseID: "case-1", Direction: domain.DirectionInbound, BodyText: "records ready for pickup"}
	store.messages[msg.ID] = msg

	provider := llm.NewMockProvider()
	provider.Analyses["records ready"] = &domain.ResponseAnalysis{
		Classification: domain.ClassRecordsReady,
		Confidence:     0.97,
		Sentiment:      domain.SentimentNeutral,
	}
	executor := &fakeExecutor{}
	g := New(store, provider, executor, DefaultConfig())

	state, outcome, err := g.Invoke(context.Background(), "run-4", "case-1", domain.TriggerInboundMessage, "msg-1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeDone {
		t.Fatalf("expected done, got %v", outcome.Kind)
	}
	if len(store.proposals) != 0 {
		t.Fatalf("expected no proposal to be created, found %d", len(store.proposals))
	}
	if state.Case.Status != domain.CaseCompleted || state.Case.Substatus != "records_received" {
		t.Fatalf("expected case completed/records_received, got %s/%s", state.Case.Status, state.Case.Substatus)
	}
	if executor.calls != 0 {
		t.Fatalf("executor must not run for a records-ready close")
	}
}

func TestDenialWithExemptScopeItemGatesOnSafetyCheck(t *testing.T) {
	store := newFakeStore()
	c := newCase("case-1", domain.AutopilotAuto)
	c.ScopeItems = []domain.ScopeItem{{Item: "bwc", Status: domain.ScopeExempt, Reason: "ongoing investigation"}}
	store.cases["case-1"] = c
	msg := &domain.Message{ID: "msg-1", CaseID: "case-1", Direction: domain.DirectionInbound, BodyText: "request denied in part"}
	store.messages[msg.ID] = msg

	provider := llm.NewMockProvider()
	provider.Analyses["denied"] = &domain.ResponseAnalysis{
		Classification: domain.ClassDenial,
		DenialSubtype:  domain.DenialOther,
		Confidence:     0.9,
		Sentiment:      domain.SentimentNeutral,
	}
	provider.Drafts[domain.ActionSendRebuttal] = &domain.Draft{
		Subject:  "Rebuttal",
		BodyText: "Please reconsider and provide the body camera footage that was withheld.",
	}
	executor := &fakeExecutor{}
	g := New(store, provider, executor, DefaultConfig())

	state, outcome, err := g.Invoke(context.Background(), "run-5", "case-1", domain.TriggerInboundMessage, "msg-1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("expected the draft re-requesting an exempt item to gate, got %v", outcome.Kind)
	}
	found := false
	for _, f := range state.RiskFlags {
		if f == domain.RiskRequestsExemptItem {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected REQUESTS_EXEMPT_ITEM risk flag, got %v", state.RiskFlags)
	}
}

// TestIterationBoundForcesDone drives repeated DISMISS resumes against
// a case whose MANUAL autopilot mode always re-gates the same
// re-proposed action, to show the bound guards against that loop
// rather than tripping on an ordinary single pass (see the run doc
// comment in graph.go).
func TestIterationBoundForcesDone(t *testing.T) {
	store := newFakeStore()
	store.cases["case-1"] = newCase("case-1", domain.AutopilotManual)
	provider := llm.NewMockProvider()
	executor := &fakeExecutor{}
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	g := New(store, provider, executor, cfg)

	state, outcome, err := g.Invoke(context.Background(), "run-6", "case-1", domain.TriggerInitialRequest, "")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("expected the first pass to suspend for MANUAL approval, got %v", outcome.Kind)
	}
	if state.IterationCount != 1 {
		t.Fatalf("expected one decide_next_action visit so far, got %d", state.IterationCount)
	}

	decision := domain.HumanDecision{Action: domain.DecisionDismiss, ProposalID: state.PendingProposal.ID}
	state, outcome, err = g.Resume(context.Background(), state, decision)
	if err != nil {
		t.Fatalf("resume 1: %v", err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("expected the second pass to still be under the bound and suspend, got %v", outcome.Kind)
	}

	state, outcome, err = g.Resume(context.Background(), state, decision)
	if err != nil {
		t.Fatalf("resume 2: %v", err)
	}
	if outcome.Kind != OutcomeDone {
		t.Fatalf("expected the iteration bound to force done, got %v", outcome.Kind)
	}
	if state.CloseReason != "iteration bound reached" {
		t.Fatalf("expected close reason to explain the forced stop, got %q", state.CloseReason)
	}
}
