package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithDoctorLockReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisDoctorLocker(client, 5*time.Second)
	doctor := uuid.New()

	ran := false
	err := locker.WithDoctorLock(context.Background(), doctor, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(lockKey(doctor)))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(lockKey(doctor)))
}

func TestWithDoctorLockFailsFastWhenHeld(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisDoctorLocker(client, 5*time.Second)
	doctor := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctor, func(ctx context.Context) error {
		inner := locker.WithDoctorLock(ctx, doctor, func(context.Context) error {
			t.Fatal("nested critical section must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithDoctorLockIsPerDoctor(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisDoctorLocker(client, 5*time.Second)

	err := locker.WithDoctorLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return locker.WithDoctorLock(ctx, uuid.New(), func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestReleaseDoesNotDeleteForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisDoctorLocker(client, 5*time.Second)
	doctor := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctor, func(context.Context) error {
		// lease expired and someone else took it
		require.NoError(t, mr.Set(lockKey(doctor), "other-owner"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(lockKey(doctor))
	require.NoError(t, err)
	assert.Equal(t, "other-owner", got)
}

func TestWithDoctorLockPropagatesFnError(t *testing.T) {
	_, client := newTestClient(t)
	boom := errors.New("boom")

	err := NewRedisDoctorLocker(client, time.Second).WithDoctorLock(context.Background(), uuid.New(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestNoopLocker(t *testing.T) {
	called := false
	err := NoopLocker{}.WithDoctorLock(context.Background(), uuid.New(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewRedisClient(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}
