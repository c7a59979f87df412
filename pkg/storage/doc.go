// Package storage persists module records and migration history in the host database.
//
// # Overview
//
// Two dialects are supported through database/sql:
//
//   - postgres (github.com/lib/pq) for shared, multi-replica deployments
//   - sqlite3 (github.com/mattn/go-sqlite3) for single-node and embedded hosts
//
// Queries are written once with '?' placeholders and rebound per dialect.
//
// # Tables
//
//	modules            one row per registered module, keyed by unique name
//	module_migrations  one row per (module, migration file) attempt
//
// EnsureSchema creates both tables idempotently. Module-owned tables are
// created by the modules' own migrations through SQLExecutor.
//
// # Usage
//
//	db, err := storage.Open(ctx, storage.ConnectionConfig{Driver: "postgres", DSN: dsn})
//	if err != nil {
//		return err
//	}
//	if err := storage.EnsureSchema(ctx, db.DB, db.Dialect); err != nil {
//		return err
//	}
//	records := storage.NewRegistryStore(db.DB, db.Dialect)
//	history := storage.NewMigrationStore(db.DB, db.Dialect)
//	runner := migrations.NewRunner(storage.NewSQLExecutor(db.DB), history)
//
// # Status Transitions
//
// RegistryStore.TransitionStatus is a conditional UPDATE on (name, status).
// Zero affected rows means another transition moved the record first, which
// the lifecycle controller reports as a conflict.
package storage
