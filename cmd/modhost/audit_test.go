package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/audit"
	"github.com/platinummonkey/modhost/pkg/config"
	"github.com/platinummonkey/modhost/pkg/storage"
)

func TestBuildAudit(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(ctx, db, storage.DialectSQLite))

	sink, reader, err := buildAudit(config.AuditConfig{Enabled: false}, db, storage.DialectSQLite, logger)
	require.NoError(t, err)
	assert.Nil(t, sink)
	assert.Nil(t, reader)

	dir := t.TempDir()
	sink, reader, err = buildAudit(config.AuditConfig{Enabled: true, FileDir: dir, MaxSize: 1 << 20, MaxFiles: 3}, db, storage.DialectSQLite, logger)
	require.NoError(t, err)
	require.IsType(t, &audit.MultiLogger{}, sink)

	require.NoError(t, sink.Log(ctx, &audit.Event{Timestamp: time.Now().UTC(), Type: audit.EventTransition, Module: "crm", Command: "enable", Success: true}))
	require.NoError(t, sink.Close())

	events, err := reader.Events(ctx, audit.Filter{Module: "crm"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "enable", events[0].Command)
	assert.FileExists(t, filepath.Join(dir, "audit.log"))
}
