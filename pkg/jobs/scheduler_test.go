package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestScheduler_RegisterUnregister(t *testing.T) {
	s := NewScheduler(DispatcherFunc(func(ctx context.Context, def Definition) error { return nil }), nil)
	ctx := context.Background()

	def := Definition{Module: "billing-sync", Name: "nightly", HandlerPath: "/srv/billing-sync/jobs/nightly", Schedule: strPtr("0 2 * * *"), Retries: 3}
	require.NoError(t, s.Register(ctx, def))
	assert.True(t, errors.Is(s.Register(ctx, def), ErrAlreadyRegistered))

	got, ok := s.Get("billing-sync", "nightly")
	require.True(t, ok)
	assert.Equal(t, 3, got.Retries)

	next, ok := s.NextRun("billing-sync", "nightly")
	assert.False(t, ok, "entries only get a next run once the scheduler is started")
	assert.True(t, next.IsZero())

	require.NoError(t, s.Register(ctx, Definition{Module: "billing-sync", Name: "backfill"}))
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "billing-sync/backfill", list[0].Key())

	require.NoError(t, s.Unregister("billing-sync", "nightly"))
	assert.True(t, errors.Is(s.Unregister("billing-sync", "nightly"), ErrNotRegistered))
	assert.Len(t, s.List(), 1)
}

func TestScheduler_BadScheduleIsOnDemand(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var calls int32
	s := NewScheduler(DispatcherFunc(func(ctx context.Context, def Definition) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), logger)

	require.NoError(t, s.Register(context.Background(), Definition{Module: "m", Name: "j", Schedule: strPtr("not a cron")}))

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	require.NoError(t, s.Trigger(context.Background(), "m", "j"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, errors.Is(s.Trigger(context.Background(), "m", "missing"), ErrNotRegistered))
}

func TestScheduler_TriggerAppliesTimeout(t *testing.T) {
	s := NewScheduler(DispatcherFunc(func(ctx context.Context, def Definition) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		if time.Until(deadline) > def.Timeout {
			return errors.New("deadline too far")
		}
		return nil
	}), nil)

	require.NoError(t, s.Register(context.Background(), Definition{Module: "m", Name: "j", Timeout: time.Minute}))
	assert.NoError(t, s.Trigger(context.Background(), "m", "j"))
}

func TestScheduler_FiresSchedules(t *testing.T) {
	fired := make(chan Definition, 4)
	s := NewScheduler(DispatcherFunc(func(ctx context.Context, def Definition) error {
		select {
		case fired <- def:
		default:
		}
		return nil
	}), nil)

	require.NoError(t, s.Register(context.Background(), Definition{Module: "m", Name: "tick", Schedule: strPtr("@every 1s")}))
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	}()

	select {
	case def := <-fired:
		assert.Equal(t, "tick", def.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never fired")
	}

	next, ok := s.NextRun("m", "tick")
	assert.True(t, ok)
	assert.False(t, next.IsZero())
}
