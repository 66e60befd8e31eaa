package access

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := locker.Lock(ctx, "permissions:entry:x:lock")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewLocalLocker())
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()
	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockA()
	unlockB()
	// Repeated unlock is a no-op.
	unlockA()
	assert.Empty(t, locker.locks)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	exerciseMutualExclusion(t, NewRedisLocker(client, RedisLockerConfig{RetryInterval: time.Millisecond}))
}

func TestRedisLockerReleaseChecksToken(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, RedisLockerConfig{})

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	// Simulate expiry followed by another holder.
	require.NoError(t, client.Set(ctx, "k", "someone-else", 0).Err())
	unlock()

	val, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestRedisLockerLogsFailedRelease(t *testing.T) {
	client := newTestRedis(t)
	var buf bytes.Buffer
	locker := NewRedisLocker(client, RedisLockerConfig{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	unlock, err := locker.Lock(context.Background(), "permissions:entry:1:lock")
	require.NoError(t, err)
	require.NoError(t, client.Close())
	unlock()

	assert.Contains(t, buf.String(), "release lock")
	assert.Contains(t, buf.String(), "permissions:entry:1:lock")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestRedisLockerHonoursContext(t *testing.T) {
	client := newTestRedis(t)
	locker := NewRedisLocker(client, RedisLockerConfig{RetryInterval: time.Millisecond})
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.Error(t, err)
}

func TestRedisLockerUnconfigured(t *testing.T) {
	var locker *RedisLocker
	_, err := locker.Lock(context.Background(), "k")
	assert.Error(t, err)
}
