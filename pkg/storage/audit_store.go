package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/modhost/pkg/audit"
)

const (
	insertEventQuery = `INSERT INTO module_events (occurred_at, event_type, module_name, command, success, elapsed_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	selectEventsQuery = `SELECT id, occurred_at, event_type, module_name, command, success, elapsed_ms, status FROM module_events`
)

// AuditStore persists the lifecycle audit trail in the host database
type AuditStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewAuditStore creates a store over db
func NewAuditStore(db *sql.DB, dialect Dialect) *AuditStore {
	return &AuditStore{db: db, dialect: dialect}
}

var (
	_ audit.Logger = (*AuditStore)(nil)
	_ audit.Reader = (*AuditStore)(nil)
)

// Log implements audit.Logger
func (s *AuditStore) Log(ctx context.Context, event *audit.Event) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(insertEventQuery),
		event.Timestamp.UTC(), string(event.Type), event.Module, event.Command,
		event.Success, event.ElapsedMS, event.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close implements audit.Logger; the database is owned by the caller
func (s *AuditStore) Close() error { return nil }

// Events implements audit.Reader
func (s *AuditStore) Events(ctx context.Context, filter audit.Filter) ([]*audit.Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Module != "" {
		where = append(where, "module_name = ?")
		args = append(args, filter.Module)
	}
	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.FailedOnly {
		where = append(where, "success = ?")
		args = append(args, false)
	}

	query := selectEventsQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultLimit
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []*audit.Event
	for rows.Next() {
		var (
			e         audit.Event
			eventType string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &e.Module, &e.Command,
			&e.Success, &e.ElapsedMS, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Type = audit.EventType(eventType)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return out, nil
}
