package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/smilemakc/caseorch/internal/domain"
)

// checkpointRow holds exactly one row per thread_id: the latest
// snapshot. There is no history table — a run resumes from the most
// recent checkpoint only, per the Checkpointer's resumability
// contract, not an audit trail.
type checkpointRow struct {
	bun.BaseModel `bun:"table:checkpoints,alias:cp"`

	ThreadID       string       `bun:"thread_id,pk"`
	ID             string       `bun:"id"`
	NodeName       string       `bun:"node_name"`
	Snapshot       []byte       `bun:"snapshot"`
	InterruptValue []byte       `bun:"interrupt_value"`
	CreatedAt      sql.NullTime `bun:"created_at"`
}

func (r *checkpointRow) toDomain() *domain.Checkpoint {
	cp := &domain.Checkpoint{
		ID:             r.ID,
		ThreadID:       r.ThreadID,
		NodeName:       r.NodeName,
		Snapshot:       r.Snapshot,
		InterruptValue: r.InterruptValue,
	}
	if r.CreatedAt.Valid {
		cp.CreatedAt = r.CreatedAt.Time
	}
	return cp
}

// SaveCheckpoint atomically replaces the single row for cp.ThreadID.
// Replacing rather than appending is what makes a write "atomic per
// write" in the sense the Checkpointer's contract requires: a reader
// never observes a partially-written snapshot interleaved with a
// previous one.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	row := &checkpointRow{
		ThreadID:       cp.ThreadID,
		ID:             cp.ID,
		NodeName:       cp.NodeName,
		Snapshot:       cp.Snapshot,
		CreatedAt:      sql.NullTime{Time: domain.Now(), Valid: true},
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (thread_id) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("node_name = EXCLUDED.node_name").
		Set("snapshot = EXCLUDED.snapshot").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	return err
}

func (s *Store) GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	row := new(checkpointRow)
	err := s.db.NewSelect().Model(row).Where("thread_id = ?", threadID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// SetInterruptValue stashes an injected resume value against an
// existing checkpoint row without disturbing its snapshot or
// node_name. It is a no-op (not an error) if no checkpoint exists yet
// for threadID — resume is only ever called against a thread that
// paused, which always has one.
func (s *Store) SetInterruptValue(ctx context.Context, threadID string, value []byte) error {
	_, err := s.db.NewUpdate().Model((*checkpointRow)(nil)).
		Set("interrupt_value = ?", value).
		Where("thread_id = ?", threadID).
		Exec(ctx)
	return err
}
