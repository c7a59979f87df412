package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every host replica using the same Redis.
// Locks expire after ttl so a crashed holder cannot block a module forever.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedis creates a Redis-backed locker
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if prefix == "" {
		prefix = "modhost:lock"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, log: log}
}

// TryLock implements Locker
func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
				r.log.WithError(err).WithField("key", key).Warn("Failed to release lock")
			}
		})
	}, nil
}
