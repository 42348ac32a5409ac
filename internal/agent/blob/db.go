package blob

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/asemenov-dev/inspectsync/internal/agent/blob/migrations"
)

// RunMigrations applies the embedded goose migrations. The scripts use
// IF NOT EXISTS guards, so applying them against an already-provisioned
// database is a no-op rather than an error.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the local blob database at dsn and brings its schema up
// to date. Open and migration errors are returned to the caller untouched.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening blob database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating blob database: %w", err)
	}

	return db, nil
}
