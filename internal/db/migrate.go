package db

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrationFiles lists the embedded migrations of one driver in apply order.
func migrationFiles(driver string) ([]string, error) {
	dir := path.Join("migrations", driver)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read embedded %s migrations", driver)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func readMigration(driver, name string) (string, error) {
	content, err := migrationsFS.ReadFile(path.Join("migrations", driver, name))
	if err != nil {
		return "", eris.Wrapf(err, "read migration %s", name)
	}
	return string(content), nil
}

// ApplyMigrations brings a Postgres database up to date. Each file runs in its own transaction
// together with its schema_migrations row.
func ApplyMigrations(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return eris.Wrap(err, "postgres: ensure schema_migrations")
	}

	files, err := migrationFiles(DriverPostgres)
	if err != nil {
		return err
	}

	for _, fileName := range files {
		var alreadyApplied bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", fileName).Scan(&alreadyApplied)
		if err != nil {
			return eris.Wrapf(err, "postgres: check migration %s", fileName)
		}
		if alreadyApplied {
			continue
		}

		content, err := readMigration(DriverPostgres, fileName)
		if err != nil {
			return err
		}

		zap.L().Info("applying migration", zap.String("driver", DriverPostgres), zap.String("file", fileName))
		if err := applyPostgresMigration(ctx, pool, fileName, content); err != nil {
			return err
		}
	}

	return nil
}

func applyPostgresMigration(ctx context.Context, pool Pool, fileName, content string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin migration %s", fileName)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, content); err != nil {
		return eris.Wrapf(err, "postgres: execute migration %s", fileName)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", fileName); err != nil {
		return eris.Wrapf(err, "postgres: mark migration %s", fileName)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit migration %s", fileName)
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return eris.Wrap(err, "sqlite: ensure schema_migrations")
	}

	files, err := migrationFiles(DriverSQLite)
	if err != nil {
		return err
	}

	for _, fileName := range files {
		var applied int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, fileName,
		).Scan(&applied); err != nil {
			return eris.Wrapf(err, "sqlite: check migration %s", fileName)
		}
		if applied > 0 {
			continue
		}

		content, err := readMigration(DriverSQLite, fileName)
		if err != nil {
			return err
		}

		zap.L().Info("applying migration", zap.String("driver", DriverSQLite), zap.String("file", fileName))
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrapf(err, "sqlite: begin migration %s", fileName)
		}
		if _, err := tx.ExecContext(ctx, content); err != nil {
			tx.Rollback() //nolint:errcheck
			return eris.Wrapf(err, "sqlite: execute migration %s", fileName)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES (?)`, fileName); err != nil {
			tx.Rollback() //nolint:errcheck
			return eris.Wrapf(err, "sqlite: mark migration %s", fileName)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "sqlite: commit migration %s", fileName)
		}
	}
	return nil
}
