package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS modules (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		version VARCHAR(64) NOT NULL,
		manifest TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		install_dir TEXT NOT NULL,
		installed_at TIMESTAMPTZ,
		enabled_at TIMESTAMPTZ,
		disabled_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_modules_status ON modules(status)`,
	`CREATE TABLE IF NOT EXISTS module_migrations (
		module_name VARCHAR(255) NOT NULL,
		filename VARCHAR(255) NOT NULL,
		module_version VARCHAR(64) NOT NULL,
		digest CHAR(64) NOT NULL,
		success BOOLEAN NOT NULL,
		execution_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (module_name, filename)
	)`,
	`CREATE TABLE IF NOT EXISTS module_events (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		module_name VARCHAR(255) NOT NULL,
		command VARCHAR(32) NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		elapsed_ms BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_module_events_module ON module_events(module_name, occurred_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS modules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		version TEXT NOT NULL,
		manifest TEXT NOT NULL,
		status TEXT NOT NULL,
		install_dir TEXT NOT NULL,
		installed_at TIMESTAMP,
		enabled_at TIMESTAMP,
		disabled_at TIMESTAMP,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_modules_status ON modules(status)`,
	`CREATE TABLE IF NOT EXISTS module_migrations (
		module_name TEXT NOT NULL,
		filename TEXT NOT NULL,
		module_version TEXT NOT NULL,
		digest TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		execution_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMP NOT NULL,
		PRIMARY KEY (module_name, filename)
	)`,
	`CREATE TABLE IF NOT EXISTS module_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		module_name TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_module_events_module ON module_events(module_name, occurred_at DESC)`,
}

// EnsureSchema creates the host's own tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := sqliteSchema
	if dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
