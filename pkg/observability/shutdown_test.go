package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_Order(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, time.Second)

	srv := httptest.NewUnstartedServer(http.NotFoundHandler())
	srv.Start()
	defer srv.Close()
	sm.AddServer(srv.Config)

	var (
		mu    sync.Mutex
		steps []string
	)
	record := func(name string, err error) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			steps = append(steps, name)
			return err
		}
	}
	sm.RegisterShutdownFunc("scheduler", record("scheduler", nil))
	sm.RegisterShutdownFunc("modules", record("modules", errors.New("cleanup failed")))
	sm.RegisterShutdownFunc("database", record("database", nil))

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modules: cleanup failed")
	assert.Equal(t, []string{"scheduler", "modules", "database"}, steps)
}

func TestShutdownManager_WaitForShutdownOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, 0)

	ran := false
	sm.RegisterShutdownFunc("flush", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		ran = hasDeadline
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.True(t, ran)
}
