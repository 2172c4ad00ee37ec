// Package store is the sole authority for persistent case state (§4.1
// of the case orchestration design): Cases, Messages, Proposals, Runs,
// and every other entity the case graph reads and writes, backed by
// Postgres through bun. Every atomic contract the rest of the system
// depends on — UpsertProposal's EXECUTED-preserving merge,
// ClaimProposalExecution's compare-and-set, per-case advisory locking —
// lives here, not in callers.
package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// newID generates a new row identifier. Entities are identified by
// opaque strings throughout domain, not uuid.UUID, so callers outside
// this package never need to import the uuid package themselves.
func newID() string {
	return uuid.NewString()
}

// Store implements domain.Storage against Postgres.
type Store struct {
	db *bun.DB
}

// New opens a Store against the given DSN. It does not ping — call
// Ping to verify connectivity before serving traffic.
func New(dsn string) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &Store{db: db}
}

// InitSchema creates every table this Store owns if it does not
// already exist. Migrations beyond the initial create live in
// internal/migrate.
func (s *Store) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*caseRow)(nil),
		(*messageRow)(nil),
		(*analysisRow)(nil),
		(*proposalRow)(nil),
		(*runRow)(nil),
		(*followUpRow)(nil),
		(*escalationRow)(nil),
		(*portalTaskRow)(nil),
		(*executionRecordRow)(nil),
		(*decisionTraceRow)(nil),
		(*dismissalRow)(nil),
		(*checkpointRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying connection for internal/migrate, which
// needs to run schema migrations against the same database the Store
// serves traffic from.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Ping checks if the storage is accessible.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the storage connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AcquireCaseLock takes the session-scoped Postgres advisory lock for
// a case without blocking, giving the Run Supervisor its
// at-most-one-active-run-per-case guarantee (§5) without a separate
// locking service.
func (s *Store) AcquireCaseLock(ctx context.Context, caseID string) (bool, error) {
	var acquired bool
	err := s.db.NewSelect().
		ColumnExpr("pg_try_advisory_lock(hashtext(?))", "case:"+caseID).
		Scan(ctx, &acquired)
	return acquired, err
}

// ReleaseCaseLock releases the advisory lock taken by AcquireCaseLock.
func (s *Store) ReleaseCaseLock(ctx context.Context, caseID string) error {
	_, err := s.db.NewSelect().
		ColumnExpr("pg_advisory_unlock(hashtext(?))", "case:"+caseID).
		Exec(ctx)
	return err
}
