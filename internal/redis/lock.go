package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor lock not acquired")
	// ErrLockLost means the lock expired or changed owner while fn was running.
	ErrLockLost = errors.New("doctor lock lost")
)

// Locker is used by the allocator to make the overlap check and the insert
// one critical section per doctor.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error
}

type redisDoctorLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedisDoctorLocker creates a locker that uses a per doctor Redis key.
// A busy key is retried until wait elapses.
func NewRedisDoctorLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &redisDoctorLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   50 * time.Millisecond,
	}
}

func doctorLockKey(doctorID int64) string {
	return fmt.Sprintf("lock:doctor:%d:slots", doctorID)
}

// WithDoctorLock holds the lock for as long as fn runs, renewing it every
// half TTL. If a renewal fails, fn's context is cancelled and ErrLockLost is
// returned. Work fn committed before that point stays committed.
func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error {
	key := doctorLockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even when ctx is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.keepAlive(lockCtx, key, token, cancel, stop)
	}()

	err := fn(lockCtx)
	close(stop)
	<-renewed

	if errors.Is(context.Cause(lockCtx), ErrLockLost) {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockLost, err)
		}
	}
	return err
}

func (l *redisDoctorLocker) keepAlive(ctx context.Context, key, token string, lost context.CancelCauseFunc, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.extend(ctx, key, token)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				lost(ErrLockLost)
				return
			}
		}
	}
}

func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire doctor lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(l.poll).After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (l *redisDoctorLocker) extend(ctx context.Context, key, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend doctor lock: %w", err)
	}
	return n == 1, nil
}

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

// LocalLocker serialises per doctor inside one process. It backs tests and
// single-instance tools such as the seeder.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[int64]*sync.Mutex)}
}

func (l *LocalLocker) WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
