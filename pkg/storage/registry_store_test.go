package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/registry"
)

func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, EnsureSchema(context.Background(), db, DialectSQLite))
	return db
}

func newModuleRecord(name string) *registry.Record {
	return &registry.Record{
		Name:       name,
		Version:    "1.0.0",
		Manifest:   json.RawMessage(`{"name":"` + name + `","version":"1.0.0"}`),
		Status:     registry.StatusRegistered,
		InstallDir: "/srv/modules/" + name,
	}
}

func TestRegistryStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewRegistryStore(setupSQLite(t), DialectSQLite)

	rec := newModuleRecord("billing-sync")
	require.NoError(t, store.Create(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	err := store.Create(ctx, newModuleRecord("billing-sync"))
	assert.True(t, errors.Is(err, registry.ErrAlreadyExists), "got %v", err)

	got, err := store.Get(ctx, "billing-sync")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, registry.StatusRegistered, got.Status)
	assert.JSONEq(t, string(rec.Manifest), string(got.Manifest))
	assert.Nil(t, got.InstalledAt)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, registry.ErrNotFound))

	installed := time.Now().UTC().Truncate(time.Second)
	got.Status = registry.StatusInstalled
	got.InstalledAt = &installed
	got.LastError = "previous failure"
	require.NoError(t, store.Update(ctx, got))

	again, err := store.Get(ctx, "billing-sync")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusInstalled, again.Status)
	require.NotNil(t, again.InstalledAt)
	assert.True(t, installed.Equal(*again.InstalledAt))
	assert.Equal(t, "previous failure", again.LastError)

	require.NoError(t, store.Create(ctx, newModuleRecord("analytics")))
	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "analytics", all[0].Name)

	require.NoError(t, store.Delete(ctx, "analytics"))
	assert.True(t, errors.Is(store.Delete(ctx, "analytics"), registry.ErrNotFound))
	assert.True(t, errors.Is(store.Update(ctx, newModuleRecord("ghost")), registry.ErrNotFound))
}

func TestRegistryStore_SQLiteTransitionStatus(t *testing.T) {
	ctx := context.Background()
	store := NewRegistryStore(setupSQLite(t), DialectSQLite)
	rec := newModuleRecord("a")
	rec.Status = registry.StatusInstalled
	require.NoError(t, store.Create(ctx, rec))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TransitionStatus(ctx, "a",
				[]registry.Status{registry.StatusInstalled, registry.StatusDisabled}, registry.StatusEnabling)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else {
				assert.True(t, errors.Is(err, registry.ErrStatusConflict), "got %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusEnabling, got.Status)

	_, err = store.TransitionStatus(ctx, "missing", []registry.Status{registry.StatusInstalled}, registry.StatusEnabling)
	assert.True(t, errors.Is(err, registry.ErrNotFound))
}

func TestRegistryStore_PostgresQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRegistryStore(db, DialectPostgres)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	t.Run("create maps unique violation", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO modules")).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.Create(ctx, newModuleRecord("dup"))
		assert.True(t, errors.Is(err, registry.ErrAlreadyExists))
	})

	t.Run("transition uses numbered placeholders", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE modules SET status = $1, updated_at = $2 WHERE name = $3 AND status IN ($4, $5)")).
			WithArgs("ENABLING", fixed, "a", "INSTALLED", "DISABLED").
			WillReturnResult(sqlmock.NewResult(0, 0))

		rows := sqlmock.NewRows([]string{"id", "name", "version", "manifest", "status", "install_dir",
			"installed_at", "enabled_at", "disabled_at", "last_error", "created_at", "updated_at"}).
			AddRow("id-a", "a", "1.0.0", []byte(`{}`), "ENABLED", "/srv/a", nil, fixed, nil, "", fixed, fixed)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, version")).WithArgs("a").WillReturnRows(rows)

		_, err := store.TransitionStatus(ctx, "a",
			[]registry.Status{registry.StatusInstalled, registry.StatusDisabled}, registry.StatusEnabling)
		assert.True(t, errors.Is(err, registry.ErrStatusConflict))
		assert.Contains(t, err.Error(), "ENABLED")
	})

	t.Run("get not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM modules WHERE name = $1")).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Get(ctx, "nope")
		assert.True(t, errors.Is(err, registry.ErrNotFound))
	})

	t.Run("delete not found", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM modules WHERE name = $1")).
			WithArgs("nope").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.True(t, errors.Is(store.Delete(ctx, "nope"), registry.ErrNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchema_ManifestColumnKeepsText(t *testing.T) {
	for name, schema := range map[string][]string{"postgres": postgresSchema, "sqlite": sqliteSchema} {
		assert.Contains(t, schema[0], "manifest TEXT NOT NULL", name)
		assert.NotContains(t, schema[0], "JSONB", name)
	}
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)",
		DialectPostgres.Rebind("SELECT * FROM t WHERE a = ? AND b IN ("+Placeholders(2)+")"))
	assert.Equal(t, "a = ?", DialectSQLite.Rebind("a = ?"))

	d, err := ParseDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)
	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}
