package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/smilemakc/caseorch/internal/domain"
)

type messageRow struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID                string                   `bun:"id,pk"`
	CaseID            string                   `bun:"case_id"`
	Direction         domain.MessageDirection  `bun:"direction"`
	ProviderMessageID string                   `bun:"provider_message_id"`
	RFC2822ID         string                   `bun:"rfc2822_id"`
	InReplyTo         string                   `bun:"in_reply_to"`
	References        []string                 `bun:"references,type:jsonb"`
	Subject           string                   `bun:"subject"`
	BodyText          string                   `bun:"body_text"`
	BodyHTML          string                   `bun:"body_html"`
	MessageType       string                   `bun:"message_type"`
	SentAt            sql.NullTime             `bun:"sent_at"`
	ReceivedAt        sql.NullTime             `bun:"received_at"`
	ProcessedAt       sql.NullTime             `bun:"processed_at"`
	ProcessedRunID    string                   `bun:"processed_run_id"`
	LastError         string                   `bun:"last_error"`
}

func (m *messageRow) toDomain() *domain.Message {
	msg := &domain.Message{
		ID:                m.ID,
		CaseID:            m.CaseID,
		Direction:         m.Direction,
		ProviderMessageID: m.ProviderMessageID,
		RFC2822ID:         m.RFC2822ID,
		InReplyTo:         m.InReplyTo,
		References:        m.References,
		Subject:           m.Subject,
		BodyText:          m.BodyText,
		BodyHTML:          m.BodyHTML,
		MessageType:       m.MessageType,
		ProcessedRunID:    m.ProcessedRunID,
		LastError:         m.LastError,
	}
	if m.SentAt.Valid {
		msg.SentAt = &m.SentAt.Time
	}
	if m.ReceivedAt.Valid {
		msg.ReceivedAt = &m.ReceivedAt.Time
	}
	if m.ProcessedAt.Valid {
		msg.ProcessedAt = &m.ProcessedAt.Time
	}
	return msg
}

func newMessageRow(m *domain.Message) *messageRow {
	row := &messageRow{
		ID:                m.ID,
		CaseID:            m.CaseID,
		Direction:         m.Direction,
		ProviderMessageID: m.ProviderMessageID,
		RFC2822ID:         m.RFC2822ID,
		InReplyTo:         m.InReplyTo,
		References:        m.References,
		Subject:           m.Subject,
		BodyText:          m.BodyText,
		BodyHTML:          m.BodyHTML,
		MessageType:       m.MessageType,
		ProcessedRunID:    m.ProcessedRunID,
		LastError:         m.LastError,
	}
	if m.SentAt != nil {
		row.SentAt = sql.NullTime{Time: *m.SentAt, Valid: true}
	}
	if m.ReceivedAt != nil {
		row.ReceivedAt = sql.NullTime{Time: *m.ReceivedAt, Valid: true}
	}
	if m.ProcessedAt != nil {
		row.ProcessedAt = sql.NullTime{Time: *m.ProcessedAt, Valid: true}
	}
	return row
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := new(messageRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	row := new(messageRow)
	err := s.db.NewSelect().Model(row).Where("provider_message_id = ?", providerMessageID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetMessageByRFC2822ID(ctx context.Context, rfc2822ID string) (*domain.Message, error) {
	row := new(messageRow)
	err := s.db.NewSelect().Model(row).Where("rfc2822_id = ?", rfc2822ID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListMessagesByCase(ctx context.Context, caseID string) ([]*domain.Message, error) {
	var rows []messageRow
	err := s.db.NewSelect().Model(&rows).Where("case_id = ?", caseID).Order("received_at ASC", "sent_at ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) SaveMessage(ctx context.Context, m *domain.Message) error {
	row := newMessageRow(m)
	_, err := s.db.NewInsert().Model(row).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) MarkMessageProcessed(ctx context.Context, messageID, runID string) error {
	_, err := s.db.NewUpdate().Model((*messageRow)(nil)).
		Set("processed_at = ?", domain.Now()).
		Set("processed_run_id = ?", runID).
		Where("id = ?", messageID).
		Exec(ctx)
	return err
}

type analysisRow struct {
	bun.BaseModel `bun:"table:response_analyses,alias:ra"`

	MessageID          string                `bun:"message_id,pk"`
	CaseID             string                `bun:"case_id"`
	Classification     domain.Classification `bun:"classification"`
	DenialSubtype      domain.DenialSubtype  `bun:"denial_subtype"`
	Confidence         float64               `bun:"confidence"`
	Sentiment          domain.Sentiment      `bun:"sentiment"`
	ExtractedFeeAmount *float64              `bun:"extracted_fee_amount"`
	ExtractedDeadline  sql.NullTime          `bun:"extracted_deadline"`
	ConstraintsToAdd   []string              `bun:"constraints_to_add,type:jsonb"`
	ScopeUpdates       []domain.ScopeItem    `bun:"scope_updates,type:jsonb"`
	KeyPoints          []string              `bun:"key_points,type:jsonb"`
	RequiresAction     bool                  `bun:"requires_action"`
	SuggestedAction    domain.ActionType     `bun:"suggested_action"`
	CreatedAt          sql.NullTime          `bun:"created_at"`
}

func (m *analysisRow) toDomain() *domain.ResponseAnalysis {
	a := &domain.ResponseAnalysis{
		MessageID:          m.MessageID,
		Classification:     m.Classification,
		DenialSubtype:      m.DenialSubtype,
		Confidence:         m.Confidence,
		Sentiment:          m.Sentiment,
		ExtractedFeeAmount: m.ExtractedFeeAmount,
		ConstraintsToAdd:   m.ConstraintsToAdd,
		ScopeUpdates:       m.ScopeUpdates,
		KeyPoints:          m.KeyPoints,
		RequiresAction:     m.RequiresAction,
		SuggestedAction:    m.SuggestedAction,
	}
	if m.ExtractedDeadline.Valid {
		a.ExtractedDeadline = &m.ExtractedDeadline.Time
	}
	return a
}

// newAnalysisRow takes case_id separately since ResponseAnalysis does
// not carry one directly; SaveAnalysis derives it from the owning
// Message before calling it.
func newAnalysisRow(caseID string, a *domain.ResponseAnalysis) *analysisRow {
	row := &analysisRow{
		MessageID:          a.MessageID,
		CaseID:             caseID,
		Classification:     a.Classification,
		DenialSubtype:      a.DenialSubtype,
		Confidence:         a.Confidence,
		Sentiment:          a.Sentiment,
		ExtractedFeeAmount: a.ExtractedFeeAmount,
		ConstraintsToAdd:   a.ConstraintsToAdd,
		ScopeUpdates:       a.ScopeUpdates,
		KeyPoints:          a.KeyPoints,
		RequiresAction:     a.RequiresAction,
		SuggestedAction:    a.SuggestedAction,
		CreatedAt:          sql.NullTime{Time: domain.Now(), Valid: true},
	}
	if a.ExtractedDeadline != nil {
		row.ExtractedDeadline = sql.NullTime{Time: *a.ExtractedDeadline, Valid: true}
	}
	return row
}

func (s *Store) SaveAnalysis(ctx context.Context, a *domain.ResponseAnalysis) error {
	msg, err := s.GetMessage(ctx, a.MessageID)
	if err != nil {
		return err
	}
	caseID := ""
	if msg != nil {
		caseID = msg.CaseID
	}
	row := newAnalysisRow(caseID, a)
	_, err = s.db.NewInsert().Model(row).On("CONFLICT (message_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) GetAnalysis(ctx context.Context, messageID string) (*domain.ResponseAnalysis, error) {
	row := new(analysisRow)
	if err := s.db.NewSelect().Model(row).Where("message_id = ?", messageID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetLatestAnalysisForCase(ctx context.Context, caseID string) (*domain.ResponseAnalysis, error) {
	row := new(analysisRow)
	err := s.db.NewSelect().Model(row).
		Where("case_id = ?", caseID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}
