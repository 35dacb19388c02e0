package jobs_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/worktime-engine/jobs"
)

// scriptedRedis answers commands in process: SET NX succeeds or not, and
// script evaluation fails with evalErr when set.
type scriptedRedis struct {
	acquired bool
	evalErr  error
	seen     []string
}

func (h *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("no network in tests")
	}
}

func (h *scriptedRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.seen = append(h.seen, cmd.Name())
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			c.SetVal(h.acquired)
			return nil
		case *redis.Cmd:
			if h.evalErr != nil {
				c.SetErr(h.evalErr)
				return h.evalErr
			}
			c.SetVal(int64(1))
			return nil
		}
		return nil
	}
}

func (h *scriptedRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func newScriptedLocker(t *testing.T, h *scriptedRedis) (*jobs.RedisLocker, *observer.ObservedLogs) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(h)
	t.Cleanup(func() { rdb.Close() })
	core, logs := observer.New(zap.WarnLevel)
	return jobs.NewRedisLocker(rdb, "worktime:", zap.New(core)), logs
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	h := &scriptedRedis{acquired: true}
	locker, logs := newScriptedLocker(t, h)

	unlock, ok, err := locker.TryLock(context.Background(), jobs.ResolveShifts, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()

	assert.Equal(t, []string{"set", "evalsha"}, h.seen)
	assert.Zero(t, logs.Len())
}

func TestRedisLocker_HeldElsewhere(t *testing.T) {
	locker, _ := newScriptedLocker(t, &scriptedRedis{acquired: false})

	unlock, ok, err := locker.TryLock(context.Background(), jobs.ResolveShifts, time.Minute)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, unlock)
}

func TestRedisLocker_ReleaseFailureIsLogged(t *testing.T) {
	// GIVEN: A held lock whose release command fails
	h := &scriptedRedis{acquired: true, evalErr: errors.New("connection reset")}
	locker, logs := newScriptedLocker(t, h)
	unlock, ok, err := locker.TryLock(context.Background(), jobs.RemoveDuplicates, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: Unlocking
	unlock()

	// THEN: The failure is logged at warn with the key
	entries := logs.FilterMessage("lock release failed, it expires with its ttl").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "worktime:lock:"+jobs.RemoveDuplicates, entries[0].ContextMap()["key"])
}
