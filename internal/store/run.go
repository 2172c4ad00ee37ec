package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/smilemakc/caseorch/internal/domain"
)

type runRow struct {
	bun.BaseModel `bun:"table:agent_runs,alias:ar"`

	ID             string           `bun:"id,pk"`
	CaseID         string           `bun:"case_id"`
	TriggerType    domain.TriggerType `bun:"trigger_type"`
	Status         domain.RunStatus `bun:"status"`
	StartedAt      sql.NullTime     `bun:"started_at"`
	EndedAt        sql.NullTime     `bun:"ended_at"`
	CurrentNode    string           `bun:"current_node"`
	IterationCount int              `bun:"iteration_count"`
	Error          string           `bun:"error"`
	Metadata       json.RawMessage  `bun:"metadata,type:jsonb"`
}

func (m *runRow) toDomain() (*domain.AgentRun, error) {
	r := &domain.AgentRun{
		ID:             m.ID,
		CaseID:         m.CaseID,
		TriggerType:    m.TriggerType,
		Status:         m.Status,
		CurrentNode:    m.CurrentNode,
		IterationCount: m.IterationCount,
		Error:          m.Error,
	}
	if m.StartedAt.Valid {
		r.StartedAt = m.StartedAt.Time
	}
	if m.EndedAt.Valid {
		r.EndedAt = &m.EndedAt.Time
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &r.Metadata); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newRunRow(r *domain.AgentRun) (*runRow, error) {
	var meta json.RawMessage
	if r.Metadata != nil {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, err
		}
		meta = raw
	}
	row := &runRow{
		ID:             r.ID,
		CaseID:         r.CaseID,
		TriggerType:    r.TriggerType,
		Status:         r.Status,
		StartedAt:      sql.NullTime{Time: r.StartedAt, Valid: !r.StartedAt.IsZero()},
		CurrentNode:    r.CurrentNode,
		IterationCount: r.IterationCount,
		Error:          r.Error,
		Metadata:       meta,
	}
	if r.EndedAt != nil {
		row.EndedAt = sql.NullTime{Time: *r.EndedAt, Valid: true}
	}
	return row, nil
}

func (s *Store) CreateRun(ctx context.Context, r *domain.AgentRun) error {
	if r.ID == "" {
		r.ID = newID()
	}
	row, err := newRunRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *Store) SaveRun(ctx context.Context, r *domain.AgentRun) error {
	row, err := newRunRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.AgentRun, error) {
	row := new(runRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

type followUpRow struct {
	bun.BaseModel `bun:"table:followup_schedules,alias:fs"`

	CaseID             string       `bun:"case_id,pk"`
	NextFollowupDate   sql.NullTime `bun:"next_followup_date"`
	FollowupCount      int          `bun:"followup_count"`
	LastFollowupSentAt sql.NullTime `bun:"last_followup_sent_at"`
	Status             string       `bun:"status"`
}

func (m *followUpRow) toDomain() *domain.FollowUpSchedule {
	f := &domain.FollowUpSchedule{
		CaseID:        m.CaseID,
		FollowupCount: m.FollowupCount,
		Status:        m.Status,
	}
	if m.NextFollowupDate.Valid {
		f.NextFollowupDate = &m.NextFollowupDate.Time
	}
	if m.LastFollowupSentAt.Valid {
		f.LastFollowupSentAt = &m.LastFollowupSentAt.Time
	}
	return f
}

func (s *Store) GetFollowUpSchedule(ctx context.Context, caseID string) (*domain.FollowUpSchedule, error) {
	row := new(followUpRow)
	if err := s.db.NewSelect().Model(row).Where("case_id = ?", caseID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// UpsertFollowUpSchedule increments followup_count atomically and sets
// the next due date, matching the at-most-MAX_FOLLOWUPS cadence the
// follow-up scheduling rule (§3, §8) enforces above this layer.
func (s *Store) UpsertFollowUpSchedule(ctx context.Context, caseID string, nextFollowupDate *time.Time) (*domain.FollowUpSchedule, error) {
	row := &followUpRow{
		CaseID:             caseID,
		FollowupCount:      1,
		LastFollowupSentAt: sql.NullTime{Time: domain.Now(), Valid: true},
		Status:             "ACTIVE",
	}
	if nextFollowupDate != nil {
		row.NextFollowupDate = sql.NullTime{Time: *nextFollowupDate, Valid: true}
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (case_id) DO UPDATE").
		Set("followup_count = followup_schedules.followup_count + 1").
		Set("next_followup_date = EXCLUDED.next_followup_date").
		Set("last_followup_sent_at = EXCLUDED.last_followup_sent_at").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetFollowUpSchedule(ctx, caseID)
}

// ListCasesDueForFollowup returns case IDs whose follow-up is due,
// backing internal/queue.Scheduler's poll loop.
func (s *Store) ListCasesDueForFollowup(ctx context.Context, asOf time.Time) ([]string, error) {
	var caseIDs []string
	err := s.db.NewSelect().
		Model((*followUpRow)(nil)).
		Column("case_id").
		Where("status = ?", "ACTIVE").
		Where("next_followup_date IS NOT NULL AND next_followup_date <= ?", asOf).
		Scan(ctx, &caseIDs)
	if err != nil {
		return nil, err
	}
	return caseIDs, nil
}

type escalationRow struct {
	bun.BaseModel `bun:"table:escalations,alias:esc"`

	ID        string       `bun:"id,pk"`
	CaseID    string       `bun:"case_id"`
	Reason    string       `bun:"reason"`
	Urgency   string       `bun:"urgency"`
	Suggested string       `bun:"suggested_action"`
	CreatedAt sql.NullTime `bun:"created_at"`
}

// UpsertEscalation inserts the escalation only if no row for
// (case_id, reason) exists within the last hour, the dedup window the
// notification design calls for (§3) to avoid paging a human repeatedly
// for the same standing issue.
func (s *Store) UpsertEscalation(ctx context.Context, e *domain.Escalation) (bool, error) {
	var recentCount int
	err := s.db.NewSelect().Model((*escalationRow)(nil)).
		ColumnExpr("count(*)").
		Where("case_id = ?", e.CaseID).
		Where("reason = ?", e.Reason).
		Where("created_at > ?", domain.Now().Add(-time.Hour)).
		Scan(ctx, &recentCount)
	if err != nil {
		return false, err
	}
	if recentCount > 0 {
		return false, nil
	}
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = domain.Now()
	}
	row := &escalationRow{
		ID:        e.ID,
		CaseID:    e.CaseID,
		Reason:    e.Reason,
		Urgency:   e.Urgency,
		Suggested: e.Suggested,
		CreatedAt: sql.NullTime{Time: e.CreatedAt, Valid: true},
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type portalTaskRow struct {
	bun.BaseModel `bun:"table:portal_tasks,alias:pt"`

	ID         string                  `bun:"id,pk"`
	CaseID     string                  `bun:"case_id"`
	ProposalID string                  `bun:"proposal_id"`
	ActionType domain.ActionType       `bun:"action_type"`
	Draft      domain.Draft            `bun:"draft,type:jsonb"`
	Status     domain.PortalTaskStatus `bun:"status"`
	CreatedAt  sql.NullTime            `bun:"created_at"`
	UpdatedAt  sql.NullTime            `bun:"updated_at"`
}

func (m *portalTaskRow) toDomain() *domain.PortalTask {
	t := &domain.PortalTask{
		ID:         m.ID,
		CaseID:     m.CaseID,
		ProposalID: m.ProposalID,
		ActionType: m.ActionType,
		Draft:      m.Draft,
		Status:     m.Status,
	}
	if m.CreatedAt.Valid {
		t.CreatedAt = m.CreatedAt.Time
	}
	if m.UpdatedAt.Valid {
		t.UpdatedAt = m.UpdatedAt.Time
	}
	return t
}

func newPortalTaskRow(t *domain.PortalTask) *portalTaskRow {
	return &portalTaskRow{
		ID:         t.ID,
		CaseID:     t.CaseID,
		ProposalID: t.ProposalID,
		ActionType: t.ActionType,
		Draft:      t.Draft,
		Status:     t.Status,
		CreatedAt:  sql.NullTime{Time: t.CreatedAt, Valid: !t.CreatedAt.IsZero()},
		UpdatedAt:  sql.NullTime{Time: t.UpdatedAt, Valid: !t.UpdatedAt.IsZero()},
	}
}

func (s *Store) CreatePortalTask(ctx context.Context, t *domain.PortalTask) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = domain.Now()
	}
	t.UpdatedAt = t.CreatedAt
	row := newPortalTaskRow(t)
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *Store) SavePortalTask(ctx context.Context, t *domain.PortalTask) error {
	t.UpdatedAt = domain.Now()
	row := newPortalTaskRow(t)
	_, err := s.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

type executionRecordRow struct {
	bun.BaseModel `bun:"table:execution_records,alias:er"`

	ID           string                  `bun:"id,pk"`
	ProposalID   string                  `bun:"proposal_id"`
	ExecutionKey string                  `bun:"execution_key"`
	Action       string                  `bun:"action"`
	Channel      string                  `bun:"channel"`
	Outcome      domain.ExecutionOutcome `bun:"outcome"`
	Detail       string                  `bun:"detail"`
	CreatedAt    sql.NullTime            `bun:"created_at"`
}

func (s *Store) RecordExecution(ctx context.Context, e *domain.ExecutionRecord) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = domain.Now()
	}
	row := &executionRecordRow{
		ID:           e.ID,
		ProposalID:   e.ProposalID,
		ExecutionKey: e.ExecutionKey,
		Action:       e.Action,
		Channel:      e.Channel,
		Outcome:      e.Outcome,
		Detail:       e.Detail,
		CreatedAt:    sql.NullTime{Time: e.CreatedAt, Valid: true},
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *Store) CountSucceededExecutions(ctx context.Context, proposalID string) (int, error) {
	count, err := s.db.NewSelect().Model((*executionRecordRow)(nil)).
		Where("proposal_id = ?", proposalID).
		Where("outcome = ?", domain.ExecutionSucceeded).
		Count(ctx)
	return count, err
}

type decisionTraceRow struct {
	bun.BaseModel `bun:"table:decision_traces,alias:dt"`

	ID             string                `bun:"id,pk"`
	RunID          string                `bun:"run_id"`
	CaseID         string                `bun:"case_id"`
	Classification domain.Classification `bun:"classification"`
	RouterOutput   json.RawMessage       `bun:"router_output,type:jsonb"`
	NodeTrace      []string              `bun:"node_trace,type:jsonb"`
	GateDecision   string                `bun:"gate_decision"`
	StartedAt      sql.NullTime          `bun:"started_at"`
	FinishedAt     sql.NullTime          `bun:"finished_at"`
}

func (s *Store) SaveDecisionTrace(ctx context.Context, t *domain.DecisionTrace) error {
	if t.ID == "" {
		t.ID = newID()
	}
	var routerOutput json.RawMessage
	if t.RouterOutput != nil {
		raw, err := json.Marshal(t.RouterOutput)
		if err != nil {
			return err
		}
		routerOutput = raw
	}
	row := &decisionTraceRow{
		ID:             t.ID,
		RunID:          t.RunID,
		CaseID:         t.CaseID,
		Classification: t.Classification,
		RouterOutput:   routerOutput,
		NodeTrace:      t.NodeTrace,
		GateDecision:   t.GateDecision,
		StartedAt:      sql.NullTime{Time: t.StartedAt, Valid: !t.StartedAt.IsZero()},
	}
	if t.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: *t.FinishedAt, Valid: true}
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Exec(ctx)
	return err
}
