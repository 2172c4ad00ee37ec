package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/smilemakc/caseorch/internal/domain"
)

type caseRow struct {
	bun.BaseModel `bun:"table:cases,alias:c"`

	ID                     string             `bun:"id,pk"`
	AgencyName             string             `bun:"agency_name"`
	AgencyEmail            string             `bun:"agency_email"`
	AgencyPortalURL        string             `bun:"agency_portal_url"`
	AgencyPortalProvider   string             `bun:"agency_portal_provider"`
	JurisdictionCode       string             `bun:"jurisdiction_code"`
	Status                 domain.CaseStatus  `bun:"status"`
	Substatus              string             `bun:"substatus"`
	PauseReason            domain.PauseReason `bun:"pause_reason"`
	Constraints            []string           `bun:"constraints,type:jsonb"`
	ScopeItems             []domain.ScopeItem `bun:"scope_items,type:jsonb"`
	NextDueAt              sql.NullTime       `bun:"next_due_at"`
	AutopilotMode          domain.AutopilotMode `bun:"autopilot_mode"`
	LastPortalSubmissionAt sql.NullTime       `bun:"last_portal_submission_at"`
	LastPortalStatus       string             `bun:"last_portal_status"`
	CreatedAt              time.Time          `bun:"created_at,nullzero,default:current_timestamp"`
}

func (m *caseRow) toDomain() *domain.Case {
	c := &domain.Case{
		ID:               m.ID,
		Agency:           domain.Agency{Name: m.AgencyName, Email: m.AgencyEmail, PortalURL: m.AgencyPortalURL, PortalProvider: m.AgencyPortalProvider},
		JurisdictionCode: m.JurisdictionCode,
		Status:           m.Status,
		Substatus:        m.Substatus,
		PauseReason:      m.PauseReason,
		Constraints:      m.Constraints,
		ScopeItems:       m.ScopeItems,
		AutopilotMode:    m.AutopilotMode,
		LastPortalStatus: m.LastPortalStatus,
	}
	if m.NextDueAt.Valid {
		c.NextDueAt = &m.NextDueAt.Time
	}
	if m.LastPortalSubmissionAt.Valid {
		c.LastPortalSubmissionAt = &m.LastPortalSubmissionAt.Time
	}
	return c
}

func newCaseRow(c *domain.Case) *caseRow {
	row := &caseRow{
		ID:                   c.ID,
		AgencyName:           c.Agency.Name,
		AgencyEmail:          c.Agency.Email,
		AgencyPortalURL:      c.Agency.PortalURL,
		AgencyPortalProvider: c.Agency.PortalProvider,
		JurisdictionCode:     c.JurisdictionCode,
		Status:               c.Status,
		Substatus:            c.Substatus,
		PauseReason:          c.PauseReason,
		Constraints:          c.Constraints,
		ScopeItems:           c.ScopeItems,
		AutopilotMode:        c.AutopilotMode,
		LastPortalStatus:     c.LastPortalStatus,
	}
	if c.NextDueAt != nil {
		row.NextDueAt = sql.NullTime{Time: *c.NextDueAt, Valid: true}
	}
	if c.LastPortalSubmissionAt != nil {
		row.LastPortalSubmissionAt = sql.NullTime{Time: *c.LastPortalSubmissionAt, Valid: true}
	}
	return row
}

func (s *Store) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	row := new(caseRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) SaveCase(ctx context.Context, c *domain.Case) error {
	row := newCaseRow(c)
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Exec(ctx)
	return err
}

// terminalCaseStatuses are excluded when matching inbound mail to a
// case by agency email — a closed case cannot receive a fresh run.
var terminalCaseStatuses = []domain.CaseStatus{
	domain.CaseCompleted,
	domain.CaseCancelled,
}

func (s *Store) FindCaseByAgencyEmail(ctx context.Context, agencyEmail string) (*domain.Case, error) {
	row := new(caseRow)
	err := s.db.NewSelect().Model(row).
		Where("agency_email = ?", agencyEmail).
		Where("status NOT IN (?)", bun.In(terminalCaseStatuses)).
		OrderExpr("created_at DESC").
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
