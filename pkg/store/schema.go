package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
	dialectMySQL
)

// migration is one ordered schema change, applied once and recorded in
// schema_migrations. New migrations are appended, never renumbered.
type migration struct {
	version     int
	description string
	up          []string
}

func migrations(d dialect) []migration {
	return []migration{
		{
			version:     1,
			description: "devices, users and runs tables",
			up:          v1Schema(d),
		},
	}
}

func schemaMigrationsDDL(d dialect) string {
	switch d {
	case dialectPostgres:
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	case dialectMySQL:
		// MySQL rejects defaults on TEXT columns.
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description VARCHAR(255) NOT NULL DEFAULT '',
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	}
}

// v1Schema stores timestamps as unix nanoseconds so the three drivers
// scan them the same way.
func v1Schema(d dialect) []string {
	text := "TEXT"
	if d == dialectMySQL {
		text = "MEDIUMTEXT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS devices (
			name        VARCHAR(255) PRIMARY KEY,
			host        VARCHAR(255) NOT NULL,
			device_type VARCHAR(64)  NOT NULL,
			source      VARCHAR(64)  NOT NULL DEFAULT '',
			last_seen   BIGINT       NOT NULL,
			last_backup BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username      VARCHAR(255) PRIMARY KEY,
			password_hash VARCHAR(255) NOT NULL,
			role          VARCHAR(32)  NOT NULL,
			created_at    BIGINT       NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id          VARCHAR(64) PRIMARY KEY,
			run_trigger VARCHAR(32) NOT NULL,
			status      VARCHAR(16) NOT NULL,
			started_at  BIGINT      NOT NULL,
			finished_at BIGINT      NOT NULL,
			report      ` + text + ` NOT NULL
		)`,
		`CREATE INDEX idx_runs_started_at ON runs (started_at)`,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL(s.d)); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("store: query schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations(s.d) {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("store: migration v%d %q: %w", m.version, m.description, err)
		}
		s.logger.Info("Applied migration", zap.Int("version", m.version), zap.String("description", m.description))
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement failed: %w\nSQL: %s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`), m.version, m.description); err != nil {
		return err
	}
	return tx.Commit()
}
