// Package migrate runs schema migrations against the Store's Postgres
// database. internal/store.Store.InitSchema stands up a fresh schema
// with CREATE TABLE IF NOT EXISTS; this package is for everything
// after that — versioned, reversible changes applied in order and
// tracked in bun's own migration table.
package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	caseorchmigrations "github.com/smilemakc/caseorch/internal/migrate/migrations"
)

// Migrator wraps bun's migrate.Migrator with the init/up/down/status
// vocabulary cmd/casectl exposes as flags.
type Migrator struct {
	migrator *migrate.Migrator
}

// New builds a Migrator from the embedded SQL migrations and the
// Store's bun connection.
func New(db *bun.DB) (*Migrator, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(caseorchmigrations.FS); err != nil {
		return nil, fmt.Errorf("migrate: discover migrations: %w", err)
	}
	return &Migrator{migrator: migrate.NewMigrator(db, migrations)}, nil
}

// Init creates bun's migration bookkeeping tables. Safe to call
// repeatedly.
func (m *Migrator) Init(ctx context.Context) error {
	return m.migrator.Init(ctx)
}

// Up applies every pending migration in order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.migrator.Init(ctx); err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	group, err := m.migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	if group.IsZero() {
		log.Info().Msg("migrate: no pending migrations")
		return nil
	}
	log.Info().Int64("group_id", group.ID).Str("applied", fmt.Sprintf("%v", group.Migrations)).Msg("migrate: applied migrations")
	return nil
}

// Down rolls back the most recently applied migration group.
func (m *Migrator) Down(ctx context.Context) error {
	group, err := m.migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("migrate: down: %w", err)
	}
	if group.IsZero() {
		log.Info().Msg("migrate: nothing to roll back")
		return nil
	}
	log.Info().Int64("group_id", group.ID).Msg("migrate: rolled back migration group")
	return nil
}

// Status reports every known migration and whether it has been
// applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	ms, err := m.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(ms))
	for _, mig := range ms {
		out = append(out, MigrationStatus{Name: mig.Name, Applied: mig.GroupID > 0})
	}
	return out, nil
}

// MigrationStatus is one row of Status's report.
type MigrationStatus struct {
	Name    string
	Applied bool
}
