package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker takes a named lock shared between processes.
type Locker interface {
	// TryLock returns ok=false without blocking when the lock is held.
	// The lock expires after ttl if unlock is never called.
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// RedisLocker holds locks as keys with a random owner token.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix, logger: logger.Named("lock")}
}

// Deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.prefix + "lock:" + name
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("lock release failed, it expires with its ttl",
				zap.String("key", key),
				zap.Error(err))
		}
	}
	return unlock, true, nil
}
