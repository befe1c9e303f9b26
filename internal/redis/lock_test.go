package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorLockKey(t *testing.T) {
	assert.Equal(t, "lock:doctor:7:slots", doctorLockKey(7))
}

func TestLocalLocker_SerialisesSameDoctor(t *testing.T) {
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithDoctorLock(context.Background(), 7, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_DifferentDoctorsDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()

	done := make(chan struct{})
	err := locker.WithDoctorLock(context.Background(), 1, func(ctx context.Context) error {
		go func() {
			_ = locker.WithDoctorLock(context.Background(), 2, func(ctx context.Context) error {
				close(done)
				return nil
			})
		}()
		select {
		case <-done:
			return nil
		case <-time.After(time.Second):
			t.Fatal("lock for doctor 2 blocked behind doctor 1")
			return nil
		}
	})
	require.NoError(t, err)
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	locker := NewLocalLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := locker.WithDoctorLock(ctx, 3, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
