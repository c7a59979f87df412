package storage

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/modhost/pkg/migrations"
)

// SQLExecutor runs module migration statements against the host database
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor creates an executor over db
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Execute implements migrations.Executor
func (e *SQLExecutor) Execute(ctx context.Context, query string) (migrations.ExecResult, error) {
	res, err := e.db.ExecContext(ctx, query)
	if err != nil {
		return migrations.ExecResult{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		// Not every driver reports rows for DDL.
		rows = 0
	}
	return migrations.ExecResult{RowsAffected: rows}, nil
}
