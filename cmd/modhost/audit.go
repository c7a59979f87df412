package main

import (
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/audit"
	"github.com/platinummonkey/modhost/pkg/config"
	"github.com/platinummonkey/modhost/pkg/storage"
)

// buildAudit returns the audit sink and the reader the admin API serves
// from. Both are nil when auditing is disabled.
func buildAudit(cfg config.AuditConfig, db *sql.DB, dialect storage.Dialect, log logrus.FieldLogger) (audit.Logger, audit.Reader, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	store := storage.NewAuditStore(db, dialect)
	if cfg.FileDir == "" {
		return store, store, nil
	}
	file, err := audit.NewFileLogger(audit.FileLoggerConfig{
		BasePath: cfg.FileDir,
		Rotate:   true,
		MaxSize:  cfg.MaxSize,
		MaxFiles: cfg.MaxFiles,
		Logger:   log,
	})
	if err != nil {
		return nil, nil, err
	}
	return audit.NewMultiLogger(store, file), store, nil
}
