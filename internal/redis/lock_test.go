package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, 30*time.Second), mr
}

func TestWithLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:test"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:test"), "lock key released after the critical section")
}

func TestWithLockRefusesHeldLock(t *testing.T) {
	locker, _ := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "lock:test", func(ctx context.Context) error {
			t.Fatal("critical section entered while lock held")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockDoesNotReleaseForeignLock(t *testing.T) {
	locker, mr := newTestLocker(t)

	// Someone else holds the key with a different token.
	require.NoError(t, mr.Set("lock:test", "someone-elses-token"))

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	val, getErr := mr.Get("lock:test")
	require.NoError(t, getErr)
	assert.Equal(t, "someone-elses-token", val, "foreign lock survives a failed acquire")
}

func TestWithLockPropagatesCallbackError(t *testing.T) {
	locker, mr := newTestLocker(t)

	sentinel := assert.AnError
	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, mr.Exists("lock:test"), "lock released even when the callback fails")
}

func TestCreationLockKeyUsesUTCDay(t *testing.T) {
	providerID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	// 23:30 in UTC-3 is already the next day in UTC.
	local := time.Date(2026, 9, 7, 23, 30, 0, 0, time.FixedZone("BRT", -3*60*60))
	key := CreationLockKey(providerID, local)
	assert.Equal(t, "lock:provider:6ba7b810-9dad-11d1-80b4-00c04fd430c8:20260908", key)
}

func TestSweepLockKeyIsStable(t *testing.T) {
	assert.Equal(t, "lock:risk-sweep", SweepLockKey())
}
