// Package migrations applies module-supplied SQL migration files.
//
// Each module ships a directory of *.sql files whose names encode their
// order (001_init.sql, 002_add_index.sql, ...). The Runner applies the files
// that have no successful record yet, in filename order, stopping at the first
// failure. Every attempt is recorded with the file's SHA-256 digest so that
// VerifyMigrationIntegrity can later detect files edited or deleted after they
// were applied.
//
// Scripts are split on ';' and run statement by statement through an
// Executor. Procedural bodies that contain ';' are not supported. There are no
// down migrations.
package migrations
