package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/uptrace/bun"

	"github.com/smilemakc/caseorch/internal/domain"
)

type proposalRow struct {
	bun.BaseModel `bun:"table:proposals,alias:p"`

	ID               string                `bun:"id,pk"`
	CaseID           string                `bun:"case_id"`
	RunID            string                `bun:"run_id"`
	TriggerMessageID string                `bun:"trigger_message_id"`
	ActionType       domain.ActionType     `bun:"action_type"`
	Draft            domain.Draft          `bun:"draft,type:jsonb"`
	Reasoning        []string              `bun:"reasoning,type:jsonb"`
	Confidence       float64               `bun:"confidence"`
	RiskFlags        []domain.RiskFlag     `bun:"risk_flags,type:jsonb"`
	Warnings         []string              `bun:"warnings,type:jsonb"`
	CanAutoExecute   bool                  `bun:"can_auto_execute"`
	RequiresHuman    bool                  `bun:"requires_human"`
	Status           domain.ProposalStatus `bun:"status"`
	ProposalKey      string                `bun:"proposal_key,unique"`
	ExecutionKey     string                `bun:"execution_key"`
	EmailJobID       string                `bun:"email_job_id"`
	AdjustmentCount  int                   `bun:"adjustment_count"`
	HumanDecision    json.RawMessage       `bun:"human_decision,type:jsonb"`
	ExecutedAt       sql.NullTime          `bun:"executed_at"`
}

func (m *proposalRow) toDomain() (*domain.Proposal, error) {
	p := &domain.Proposal{
		ID:               m.ID,
		CaseID:           m.CaseID,
		RunID:            m.RunID,
		TriggerMessageID: m.TriggerMessageID,
		ActionType:       m.ActionType,
		Draft:            m.Draft,
		Reasoning:        m.Reasoning,
		Confidence:       m.Confidence,
		RiskFlags:        m.RiskFlags,
		Warnings:         m.Warnings,
		CanAutoExecute:   m.CanAutoExecute,
		RequiresHuman:    m.RequiresHuman,
		Status:           m.Status,
		ProposalKey:      m.ProposalKey,
		ExecutionKey:     m.ExecutionKey,
		EmailJobID:       m.EmailJobID,
		AdjustmentCount:  m.AdjustmentCount,
	}
	if m.ExecutedAt.Valid {
		p.ExecutedAt = &m.ExecutedAt.Time
	}
	if len(m.HumanDecision) > 0 {
		var hd domain.HumanDecision
		if err := json.Unmarshal(m.HumanDecision, &hd); err != nil {
			return nil, err
		}
		p.HumanDecision = &hd
	}
	return p, nil
}

func newProposalRow(proposalKey string, fields domain.ProposalFields) (*proposalRow, error) {
	row := &proposalRow{
		ID:               "", // assigned by caller before insert
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
	return row, nil
}

// UpsertProposal inserts a new row for proposalKey, or merges fields
// into the existing one. If the existing row is already EXECUTED, its
// status, execution_key, and email_job_id are preserved verbatim — an
// in-flight run must never resurrect an already-dispatched proposal
// into a re-gateable state.
func (s *Store) UpsertProposal(ctx context.Context, proposalKey string, fields domain.ProposalFields) (*domain.Proposal, error) {
	var result *domain.Proposal
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing := new(proposalRow)
		err := tx.NewSelect().Model(existing).Where("proposal_key = ?", proposalKey).For("UPDATE").Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			row, buildErr := newProposalRow(proposalKey, fields)
			if buildErr != nil {
				return buildErr
			}
			row.ID = newID()
			if _, insErr := tx.NewInsert().Model(row).Exec(ctx); insErr != nil {
				return insErr
			}
			result, err = row.toDomain()
			return err
		case err != nil:
			return err
		}

		if existing.Status != domain.ProposalExecuted {
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
		}
		if _, updErr := tx.NewUpdate().Model(existing).WherePK().Exec(ctx); updErr != nil {
			return updErr
		}
		result, err = existing.toDomain()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimProposalExecution atomically claims the right to execute a
// proposal: it succeeds iff execution_key is currently empty and
// status != EXECUTED, which is the compare-and-set the executor relies
// on to guarantee at-most-once side effects under concurrent retries.
func (s *Store) ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*proposalRow)(nil)).
		Set("execution_key = ?", executionKey).
		Where("id = ?", proposalID).
		Where("(execution_key = '' OR execution_key IS NULL)").
		Where("status != ?", domain.ProposalExecuted).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	row := new(proposalRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) GetProposalByKey(ctx context.Context, proposalKey string) (*domain.Proposal, error) {
	row := new(proposalRow)
	err := s.db.NewSelect().Model(row).Where("proposal_key = ?", proposalKey).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) GetLatestPendingProposal(ctx context.Context, caseID string) (*domain.Proposal, error) {
	row := new(proposalRow)
	err := s.db.NewSelect().Model(row).
		Where("case_id = ?", caseID).
		Where("status = ?", domain.ProposalPendingApproval).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) MarkProposalExecuted(ctx context.Context, proposalID, emailJobID string) error {
	_, err := s.db.NewUpdate().Model((*proposalRow)(nil)).
		Set("status = ?", domain.ProposalExecuted).
		Set("email_job_id = ?", emailJobID).
		Set("executed_at = ?", domain.Now()).
		Where("id = ?", proposalID).
		Exec(ctx)
	return err
}

func (s *Store) SetProposalHumanDecision(ctx context.Context, proposalID string, decision domain.HumanDecision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model((*proposalRow)(nil)).
		Set("human_decision = ?", raw).
		Where("id = ?", proposalID).
		Exec(ctx)
	return err
}

type dismissalRow struct {
	bun.BaseModel `bun:"table:proposal_dismissals,alias:pd"`

	CaseID string            `bun:"case_id,pk"`
	Action domain.ActionType `bun:"action,pk"`
	Count  int               `bun:"count"`
}

func (s *Store) IncrementDismissalCount(ctx context.Context, caseID string, action domain.ActionType) (int, error) {
	var count int
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&dismissalRow{CaseID: caseID, Action: action, Count: 1}).
			On("CONFLICT (case_id, action) DO UPDATE").
			Set("count = proposal_dismissals.count + 1").
			Exec(ctx)
		if err != nil {
			return err
		}
		return tx.NewSelect().Model((*dismissalRow)(nil)).
			Column("count").
			Where("case_id = ?", caseID).
			Where("action = ?", action).
			Scan(ctx, &count)
	})
	return count, err
}

func (s *Store) GetDismissalCount(ctx context.Context, caseID string, action domain.ActionType) (int, error) {
	var count int
	err := s.db.NewSelect().Model((*dismissalRow)(nil)).
		Column("count").
		Where("case_id = ?", caseID).
		Where("action = ?", action).
		Scan(ctx, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}
