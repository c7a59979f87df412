package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/modhost/pkg/registry"
)

const moduleColumns = `id, name, version, manifest, status, install_dir, installed_at, enabled_at, disabled_at, last_error, created_at, updated_at`

const (
	insertModuleQuery = `INSERT INTO modules (` + moduleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	getModuleQuery    = `SELECT ` + moduleColumns + ` FROM modules WHERE name = ?`
	listModulesQuery  = `SELECT ` + moduleColumns + ` FROM modules ORDER BY name`
	updateModuleQuery = `UPDATE modules SET version = ?, manifest = ?, status = ?, install_dir = ?, installed_at = ?, enabled_at = ?, disabled_at = ?, last_error = ?, updated_at = ? WHERE name = ?`
	deleteModuleQuery = `DELETE FROM modules WHERE name = ?`
	transitionQuery   = `UPDATE modules SET status = ?, updated_at = ? WHERE name = ? AND status IN (%s)`
)

// RegistryStore is a registry.Store backed by the host database
type RegistryStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewRegistryStore creates a store over db
func NewRegistryStore(db *sql.DB, dialect Dialect) *RegistryStore {
	return &RegistryStore{db: db, dialect: dialect, now: time.Now}
}

var _ registry.Store = (*RegistryStore)(nil)

// Create implements registry.Store
func (s *RegistryStore) Create(ctx context.Context, rec *registry.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(insertModuleQuery),
		rec.ID, rec.Name, rec.Version, string(rec.Manifest), string(rec.Status), rec.InstallDir,
		nullTime(rec.InstalledAt), nullTime(rec.EnabledAt), nullTime(rec.DisabledAt),
		rec.LastError, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", registry.ErrAlreadyExists, rec.Name)
		}
		return fmt.Errorf("failed to insert module: %w", err)
	}
	return nil
}

// Get implements registry.Store
func (s *RegistryStore) Get(ctx context.Context, name string) (*registry.Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(getModuleQuery), name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return rec, nil
}

// List implements registry.Store
func (s *RegistryStore) List(ctx context.Context) ([]*registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, listModulesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var out []*registry.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	return out, nil
}

// TransitionStatus implements registry.Store. The conditional UPDATE is the
// compare-and-swap; zero affected rows means the record is missing or moved.
func (s *RegistryStore) TransitionStatus(ctx context.Context, name string, from []registry.Status, to registry.Status) (*registry.Record, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no source states for %s", registry.ErrStatusConflict, name)
	}

	args := []interface{}{string(to), s.now().UTC(), name}
	for _, st := range from {
		args = append(args, string(st))
	}
	query := s.dialect.Rebind(fmt.Sprintf(transitionQuery, Placeholders(len(from))))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition module: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to transition module: %w", err)
	}

	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s is %s", registry.ErrStatusConflict, name, rec.Status)
	}
	return rec, nil
}

// Update implements registry.Store
func (s *RegistryStore) Update(ctx context.Context, rec *registry.Record) error {
	rec.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(updateModuleQuery),
		rec.Version, string(rec.Manifest), string(rec.Status), rec.InstallDir,
		nullTime(rec.InstalledAt), nullTime(rec.EnabledAt), nullTime(rec.DisabledAt),
		rec.LastError, rec.UpdatedAt, rec.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update module: %w", err)
	}
	return requireAffected(res, rec.Name)
}

// Delete implements registry.Store
func (s *RegistryStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(deleteModuleQuery), name)
	if err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
	}
	return requireAffected(res, name)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*registry.Record, error) {
	var (
		rec       registry.Record
		manifest  []byte
		status    string
		lastError sql.NullString

		installedAt, enabledAt, disabledAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Version, &manifest, &status, &rec.InstallDir,
		&installedAt, &enabledAt, &disabledAt, &lastError, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Manifest = manifest
	rec.Status = registry.Status(status)
	rec.InstalledAt = timePtr(installedAt)
	rec.EnabledAt = timePtr(enabledAt)
	rec.DisabledAt = timePtr(disabledAt)
	rec.LastError = lastError.String
	return &rec, nil
}

func requireAffected(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
