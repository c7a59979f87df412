package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/capabilities"
	"github.com/platinummonkey/modhost/pkg/config"
	"github.com/platinummonkey/modhost/pkg/manifest"
)

type noJobs struct{}

func (noJobs) Trigger(ctx context.Context, module, job string) error { return nil }

func TestBuildCapabilities(t *testing.T) {
	cfg := &config.Config{Capabilities: config.CapabilitiesConfig{
		FilesBackend:  config.FilesBackendLocal,
		FilesRoot:     t.TempDir(),
		NotifyWebhook: "http://127.0.0.1:1/notify",
	}}
	caps, err := buildCapabilities(context.Background(), cfg, noJobs{})
	require.NoError(t, err)

	m, err := manifest.Decode(map[string]interface{}{
		"name":        "billing-sync",
		"version":     "1.0.0",
		"permissions": []interface{}{"files:write", "notifications:send"},
	})
	require.NoError(t, err)

	granted := caps.Capabilities(m)
	assert.Nil(t, granted.HTTP)
	assert.Nil(t, granted.Automation)
	require.NotNil(t, granted.Notifier)
	require.NotNil(t, granted.Files)
	require.NoError(t, granted.Files.Put(context.Background(), "report.csv", strings.NewReader("a,b")))

	_, ok := granted.Files.(*capabilities.LocalFiles)
	assert.True(t, ok)
}

func TestBuildCapabilities_FilesBackends(t *testing.T) {
	cfg := &config.Config{Capabilities: config.CapabilitiesConfig{FilesBackend: config.FilesBackendNone}}
	caps, err := buildCapabilities(context.Background(), cfg, noJobs{})
	require.NoError(t, err)
	assert.Nil(t, caps.Files)

	cfg.Capabilities.FilesBackend = "ftp"
	_, err = buildCapabilities(context.Background(), cfg, noJobs{})
	assert.Error(t, err)
}
