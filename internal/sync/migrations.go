package sync

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newMigrator(db *sql.DB) (*goose.Provider, error) {
	schema, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sync: opening embedded migrations: %w", err)
	}

	p, err := goose.NewProvider(goose.DialectSQLite3, db, schema)
	if err != nil {
		return nil, fmt.Errorf("sync: loading migrations: %w", err)
	}

	return p, nil
}

// migrate applies pending schema migrations. Opening an up-to-date database
// applies nothing and logs nothing at info level.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	p, err := newMigrator(db)
	if err != nil {
		return err
	}

	applied, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("sync: migrating state database: %w", err)
	}

	if len(applied) == 0 {
		logger.Debug("state schema up to date")
		return nil
	}

	for _, r := range applied {
		logger.Info("state schema migrated",
			slog.Int64("version", r.Source.Version),
			slog.Duration("took", r.Duration),
		)
	}

	return nil
}

// SchemaVersion returns the applied migration version of the database.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	p, err := newMigrator(s.db)
	if err != nil {
		return 0, err
	}

	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: reading schema version: %w", err)
	}

	return v, nil
}
