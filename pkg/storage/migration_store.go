package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/modhost/pkg/migrations"
)

const migrationColumns = `module_name, filename, module_version, digest, success, execution_ms, error_message, applied_at`

const (
	successfulMigrationsQuery = `SELECT ` + migrationColumns + ` FROM module_migrations WHERE module_name = ? AND success = ?`
	listMigrationsQuery       = `SELECT ` + migrationColumns + ` FROM module_migrations WHERE module_name = ? ORDER BY filename`

	// A successful row is never overwritten; the WHERE clause turns the
	// upsert into a no-op for it.
	recordMigrationQuery = `INSERT INTO module_migrations (` + migrationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (module_name, filename) DO UPDATE SET
			module_version = excluded.module_version,
			digest = excluded.digest,
			success = excluded.success,
			execution_ms = excluded.execution_ms,
			error_message = excluded.error_message,
			applied_at = excluded.applied_at
		WHERE module_migrations.success = ?`
)

// MigrationStore is a migrations.Store backed by the host database
type MigrationStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewMigrationStore creates a store over db
func NewMigrationStore(db *sql.DB, dialect Dialect) *MigrationStore {
	return &MigrationStore{db: db, dialect: dialect}
}

var _ migrations.Store = (*MigrationStore)(nil)

// SuccessfulMigrations implements migrations.Store
func (s *MigrationStore) SuccessfulMigrations(ctx context.Context, module string) (map[string]*migrations.Record, error) {
	recs, err := s.query(ctx, successfulMigrationsQuery, module, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*migrations.Record, len(recs))
	for _, rec := range recs {
		out[rec.Filename] = rec
	}
	return out, nil
}

// ListMigrations implements migrations.Store
func (s *MigrationStore) ListMigrations(ctx context.Context, module string) ([]*migrations.Record, error) {
	return s.query(ctx, listMigrationsQuery, module)
}

// RecordMigration implements migrations.Store
func (s *MigrationStore) RecordMigration(ctx context.Context, rec *migrations.Record) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(recordMigrationQuery),
		rec.ModuleName, rec.Filename, rec.ModuleVersion, rec.Digest, rec.Success,
		rec.ExecutionMS, rec.ErrorMessage, rec.AppliedAt.UTC(), false,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("migration %s/%s already applied", rec.ModuleName, rec.Filename)
	}
	return nil
}

func (s *MigrationStore) query(ctx context.Context, query string, args ...interface{}) ([]*migrations.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var out []*migrations.Record
	for rows.Next() {
		var (
			rec    migrations.Record
			errMsg sql.NullString
		)
		if err := rows.Scan(&rec.ModuleName, &rec.Filename, &rec.ModuleVersion, &rec.Digest, &rec.Success,
			&rec.ExecutionMS, &errMsg, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		rec.ErrorMessage = errMsg.String
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	return out, nil
}
