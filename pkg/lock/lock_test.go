package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "billing-sync")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "billing-sync")
	assert.True(t, errors.Is(err, ErrLocked))

	other, err := l.TryLock(ctx, "analytics")
	require.NoError(t, err, "different keys must not contend")
	other()

	unlock()
	unlock()

	again, err := l.TryLock(ctx, "billing-sync")
	require.NoError(t, err)
	again()
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal())
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	exerciseLocker(t, NewRedis(client, "test", time.Minute, nil))
}

func TestRedis_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, "test", time.Second, nil)
	ctx := context.Background()

	stale, err := l.TryLock(ctx, "m")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.TryLock(ctx, "m")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("test:m"), "old holder must not delete the new holder's lock")

	fresh()
	assert.False(t, mr.Exists("test:m"))
}
